package protocol

// This package implements encoding and decoding of the datagrams that dgramfs
// clients and servers exchange over UDP.
//
// This protocol aims to be
//
// - cheap to parse without allocating per field
// - self delimiting within a single datagram
// - safe to decode from untrusted bytes (every length is bounds checked)
//
// - `Request` - A client call, sent in one datagram.
// - `Response` - The server reply to a request, sent in one datagram.
// - `Update` - The new state of a monitored file, pushed by the server.
//
// === Primitives
//
// - integers are 4 bytes, big-endian, two's complement
// - longs/timestamps are 8 bytes, big-endian, two's complement (unix ms)
// - strings are their raw bytes, their length is framed by the caller
//
// === Request framing
//
//   ```
//   [4B idLen][id][1B op][4B nameLen][name][4B offset][4B payloadLen][payload]
//   ```
//
// The id is `[4B seq][token]`. The token is unique to a client instance and
// seq increases with every call, so the pair identifies one logical call.
// A client retransmitting a call sends the exact same bytes, including the id.
//
// === Operations
//
//   ```
//   1 READ     offset = first byte      payload = [4B max bytes]
//   2 INSERT   offset = splice point    payload = content
//   3 MONITOR  offset = seconds         payload = empty
//   4 GETINFO  offset = 0               payload = empty
//   5 APPEND   offset = 0               payload = content
//   ```
//
// === Responses
//
// A response is the raw reply bytes, there is no request ID on the way back.
// A client has one call outstanding at a time and treats the next reply as
// the answer to it.
//
//   ```
//   > READ file1 0 5
//   < Hello
//
//   > READ nope 0 5
//   < Error: File does not exist.
//   ```
//
// An error reply always begins with the literal `Error: `, the rest is a
// human readable message.
//
// === Updates
//
// After an INSERT or APPEND the server pushes the file to every client that is
// still inside its MONITOR interval for that file.
//
//   ```
//   Notify:[4B nameLen][name][4B contentLen][content][8B lastModified]
//   ```
//
// Updates are fire and forget. They are never acknowledged or retried.
//
