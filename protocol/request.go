package protocol

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrEmptyFilename  = errors.New("Request is malformed, the filename is empty")
	ErrNegativeOffset = errors.New("Request is malformed, the offset is negative")
	ErrRequestIDShort = errors.New("Request is malformed, the request ID is shorter than its sequence number")
)

// RequestID identifies a single logical call. Token is unique to the client
// instance and Seq increases with every call it makes, so the pair is unique
// across clients. Retransmissions of the same call reuse the same RequestID.
type RequestID struct {
	Token string
	Seq   uint32
}

func (r RequestID) String() string {
	return fmt.Sprintf("%s_%d", r.Token, r.Seq)
}

// Marshal encodes r as `[4B seq][token]`.
func (r RequestID) Marshal() []byte {
	b := make([]byte, 0, Int32Size+len(r.Token))
	b = AppendInt32(b, int32(r.Seq))
	return append(b, r.Token...)
}

func unmarshalRequestID(data []byte) (RequestID, error) {
	if len(data) < Int32Size {
		return RequestID{}, ErrRequestIDShort
	}

	d := NewDecoder(data)
	seq, _ := d.Int32()

	return RequestID{Seq: uint32(seq), Token: string(d.Rest())}, nil
}

// Request is a single call from a client. How Offset and Payload are read
// depends on Op:
//
//	READ     Offset is the first byte, Payload is a 4 byte max length
//	INSERT   Offset is where Payload is spliced in
//	MONITOR  Offset is the monitor interval in seconds
//	GETINFO  neither is used
//	APPEND   Payload is appended, Offset is ignored
type Request struct {
	ID       RequestID
	Op       OpCode
	Filename string
	Offset   int32
	Payload  []byte
}

// Validate checks the invariants every request must hold regardless of its
// operation.
func (r *Request) Validate() error {
	if r.Filename == "" {
		return ErrEmptyFilename
	}

	if r.Offset < 0 {
		return fmt.Errorf("offset %d: %w", r.Offset, ErrNegativeOffset)
	}

	return nil
}

// ReadLength decodes the max byte count carried by a READ request.
func (r *Request) ReadLength() (int, error) {
	n, err := UnmarshalInt32(r.Payload)
	if err != nil {
		return 0, fmt.Errorf("Failed to decode read length: %w", err)
	}

	if n < 0 {
		return 0, fmt.Errorf("read length %d: %w", n, ErrNegativeLength)
	}

	return int(n), nil
}

// MonitorInterval decodes the interval carried by a MONITOR request.
func (r *Request) MonitorInterval() time.Duration {
	return time.Duration(r.Offset) * time.Second
}

// Marshal frames r as
// `[4B idLen][id][1B op][4B nameLen][name][4B offset][4B payloadLen][payload]`
func (r *Request) Marshal() ([]byte, error) {
	id := r.ID.Marshal()

	b := make([]byte, 0, 4*Int32Size+1+len(id)+len(r.Filename)+len(r.Payload))
	b = AppendLengthPrefixed(b, id)
	b = append(b, byte(r.Op))
	b = AppendLengthPrefixed(b, []byte(r.Filename))
	b = AppendInt32(b, r.Offset)
	b = AppendLengthPrefixed(b, r.Payload)

	return b, nil
}

func NewReadRequest(id RequestID, filename string, offset, length int) *Request {
	return &Request{
		ID:       id,
		Op:       OpRead,
		Filename: filename,
		Offset:   int32(offset),
		Payload:  MarshalInt32(int32(length)),
	}
}

func NewInsertRequest(id RequestID, filename string, offset int, content string) *Request {
	return &Request{
		ID:       id,
		Op:       OpInsert,
		Filename: filename,
		Offset:   int32(offset),
		Payload:  MarshalString(content),
	}
}

func NewMonitorRequest(id RequestID, filename string, interval time.Duration) *Request {
	return &Request{
		ID:       id,
		Op:       OpMonitor,
		Filename: filename,
		Offset:   int32(interval / time.Second),
	}
}

func NewGetInfoRequest(id RequestID, filename string) *Request {
	return &Request{
		ID:       id,
		Op:       OpGetInfo,
		Filename: filename,
	}
}

func NewAppendRequest(id RequestID, filename string, content string) *Request {
	return &Request{
		ID:       id,
		Op:       OpAppend,
		Filename: filename,
		Payload:  MarshalString(content),
	}
}
