package protocol

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	ErrRequestTooShort = errors.New("Request is malformed, it appears to be too short")
)

// minRequestSize is a frame with an empty id, name and payload.
const minRequestSize = Int32Size + 1 + Int32Size + Int32Size + Int32Size

// ParseRequest decodes a single request datagram. Only the framing is checked
// here, Validate covers the field invariants and an unknown opcode is left for
// the dispatcher to reject.
func ParseRequest(datagram []byte) (*Request, error) {
	if len(datagram) < minRequestSize {
		return nil, ErrRequestTooShort
	}

	d := NewDecoder(datagram)

	rawID, err := d.LengthPrefixed()
	if err != nil {
		return nil, fmt.Errorf("Failed to parse request ID: %w", err)
	}

	id, err := unmarshalRequestID(rawID)
	if err != nil {
		return nil, err
	}

	op, err := d.Byte()
	if err != nil {
		return nil, fmt.Errorf("Failed to parse opcode: %w", err)
	}

	name, err := d.LengthPrefixed()
	if err != nil {
		return nil, fmt.Errorf("Failed to parse filename: %w", err)
	}

	offset, err := d.Int32()
	if err != nil {
		return nil, fmt.Errorf("Failed to parse offset: %w", err)
	}

	payload, err := d.LengthPrefixed()
	if err != nil {
		return nil, fmt.Errorf("Failed to parse payload: %w", err)
	}

	if err := d.Done(); err != nil {
		return nil, err
	}

	return &Request{
		ID:       id,
		Op:       OpCode(op),
		Filename: string(name),
		Offset:   offset,
		Payload:  append([]byte(nil), payload...),
	}, nil
}

// ParseRequestID pulls just the request ID off the front of a datagram. It is
// used to address an error reply when the rest of the frame is unreadable.
func ParseRequestID(datagram []byte) (RequestID, error) {
	rawID, err := NewDecoder(datagram).LengthPrefixed()
	if err != nil {
		return RequestID{}, err
	}

	return unmarshalRequestID(rawID)
}

// ParseResponse classifies a datagram received by a client. Updates pushed by
// the server carry PrefixUpdate, errors carry PrefixErr and anything else is a
// plain reply. A zero-length datagram is the reply to a read of no bytes.
func ParseResponse(datagram []byte) (*Response, error) {
	switch {
	case bytes.HasPrefix(datagram, PrefixUpdate):
		record := &FileRecord{}
		if err := record.Unmarshal(datagram[len(PrefixUpdate):]); err != nil {
			return nil, fmt.Errorf("Failed to parse update: %w", err)
		}

		return &Response{Type: RespUpdate, Record: record}, nil

	case bytes.HasPrefix(datagram, PrefixErr):
		return &Response{
			Type: RespErr,
			Err:  &ServerError{Message: string(datagram[len(PrefixErr):])},
		}, nil

	default:
		return &Response{
			Type:  RespOk,
			Value: append([]byte{}, datagram...),
		}, nil
	}
}
