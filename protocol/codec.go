package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	Int32Size = 4
	Int64Size = 8
)

var (
	ErrTruncated      = errors.New("Data is malformed, it is shorter than its length prefixes claim")
	ErrNegativeLength = errors.New("Data is malformed, it contains a negative length prefix")
	ErrTrailingBytes  = errors.New("Data is malformed, it has unexpected bytes after the last field")
)

// AppendInt32 appends v to dst as 4 big-endian bytes.
func AppendInt32(dst []byte, v int32) []byte {
	var b [Int32Size]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	return append(dst, b[:]...)
}

// AppendInt64 appends v to dst as 8 big-endian bytes.
func AppendInt64(dst []byte, v int64) []byte {
	var b [Int64Size]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return append(dst, b[:]...)
}

// AppendLengthPrefixed appends a 4 byte length followed by data.
func AppendLengthPrefixed(dst []byte, data []byte) []byte {
	dst = AppendInt32(dst, int32(len(data)))
	return append(dst, data...)
}

func MarshalInt32(v int32) []byte {
	return AppendInt32(make([]byte, 0, Int32Size), v)
}

func MarshalInt64(v int64) []byte {
	return AppendInt64(make([]byte, 0, Int64Size), v)
}

// MarshalString returns the raw bytes of s. The length is not embedded, callers
// that need to recover it must frame it themselves.
func MarshalString(s string) []byte {
	return []byte(s)
}

func UnmarshalInt32(data []byte) (int32, error) {
	d := NewDecoder(data)
	v, err := d.Int32()
	if err != nil {
		return 0, err
	}

	return v, d.Done()
}

func UnmarshalInt64(data []byte) (int64, error) {
	d := NewDecoder(data)
	v, err := d.Int64()
	if err != nil {
		return 0, err
	}

	return v, d.Done()
}

func UnmarshalString(data []byte) string {
	return string(data)
}

// Decoder reads fields sequentially from a byte slice. Every read is checked
// against the bytes remaining, a short buffer yields ErrTruncated.
type Decoder struct {
	buf []byte
	off int
}

func NewDecoder(data []byte) *Decoder {
	return &Decoder{buf: data}
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.off
}

// Done returns ErrTrailingBytes if anything is left unread.
func (d *Decoder) Done() error {
	if d.Remaining() != 0 {
		return fmt.Errorf("%d bytes left over: %w", d.Remaining(), ErrTrailingBytes)
	}

	return nil
}

func (d *Decoder) Byte() (byte, error) {
	b, err := d.Bytes(1)
	if err != nil {
		return 0, err
	}

	return b[0], nil
}

func (d *Decoder) Int32() (int32, error) {
	b, err := d.Bytes(Int32Size)
	if err != nil {
		return 0, err
	}

	return int32(binary.BigEndian.Uint32(b)), nil
}

func (d *Decoder) Int64() (int64, error) {
	b, err := d.Bytes(Int64Size)
	if err != nil {
		return 0, err
	}

	return int64(binary.BigEndian.Uint64(b)), nil
}

// Bytes returns the next n bytes. The returned slice aliases the decoder's
// buffer.
func (d *Decoder) Bytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrNegativeLength
	}

	if n > d.Remaining() {
		return nil, fmt.Errorf("wanted %d bytes, %d remain: %w", n, d.Remaining(), ErrTruncated)
	}

	b := d.buf[d.off : d.off+n]
	d.off += n

	return b, nil
}

// LengthPrefixed reads a 4 byte length and then that many bytes.
func (d *Decoder) LengthPrefixed() ([]byte, error) {
	n, err := d.Int32()
	if err != nil {
		return nil, err
	}

	return d.Bytes(int(n))
}

// Rest returns every unread byte.
func (d *Decoder) Rest() []byte {
	b := d.buf[d.off:]
	d.off = len(d.buf)
	return b
}

// FileRecord is a named file, its content and the time the content last
// changed.
type FileRecord struct {
	Name         string
	Content      string
	LastModified time.Time
}

// Clone returns a copy that shares nothing mutable with r.
func (r *FileRecord) Clone() *FileRecord {
	c := *r
	return &c
}

// Size is the content length in bytes.
func (r *FileRecord) Size() int {
	return len(r.Content)
}

// Marshal encodes r as
// `[4B nameLen][name][4B contentLen][content][8B lastModified unix ms]`
func (r *FileRecord) Marshal() ([]byte, error) {
	b := make([]byte, 0, 2*Int32Size+Int64Size+len(r.Name)+len(r.Content))
	b = AppendLengthPrefixed(b, []byte(r.Name))
	b = AppendLengthPrefixed(b, []byte(r.Content))
	b = AppendInt64(b, r.LastModified.UnixMilli())

	return b, nil
}

// Unmarshal decodes data produced by Marshal into r.
func (r *FileRecord) Unmarshal(data []byte) error {
	d := NewDecoder(data)

	name, err := d.LengthPrefixed()
	if err != nil {
		return fmt.Errorf("Failed to decode file name: %w", err)
	}

	content, err := d.LengthPrefixed()
	if err != nil {
		return fmt.Errorf("Failed to decode file content: %w", err)
	}

	lastModified, err := d.Int64()
	if err != nil {
		return fmt.Errorf("Failed to decode file timestamp: %w", err)
	}

	if err := d.Done(); err != nil {
		return err
	}

	r.Name = string(name)
	r.Content = string(content)
	r.LastModified = time.UnixMilli(lastModified)

	return nil
}

// FormatFileInfo renders the reply to a GETINFO request.
func FormatFileInfo(r *FileRecord) string {
	return fmt.Sprintf("Name: %s, Size: %d bytes, Last Modified: %d",
		r.Name, r.Size(), r.LastModified.UnixMilli())
}

type Marshaler interface {
	Marshal() ([]byte, error)
}

type Unmarshaler interface {
	Unmarshal(data []byte) error
}

type Marshalable interface {
	Marshaler
	Unmarshaler
}

var _ Marshalable = (*FileRecord)(nil)
