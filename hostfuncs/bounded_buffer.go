package hostfuncs

import (
	"bytes"
	"io"
)

// DefaultMaxBodySize caps http_fetch response bodies at 10MB.
const DefaultMaxBodySize = 10 << 20

// DefaultMaxRequestSize caps call payloads read out of guest memory at 1MB.
// Guests declare their own payload length, so without a cap a corrupt length
// word could make the host allocate gigabytes.
const DefaultMaxRequestSize = 1 << 20

// BoundedBuffer collects writer output up to a fixed limit. Bytes past the
// limit are dropped rather than stored, and Truncated records that the
// source did not fit. Write never fails, so the buffer can sit behind
// io.Copy or fmt.Fprintf without surfacing short-write errors to code that
// is only producing diagnostics.
type BoundedBuffer struct {
	buf       bytes.Buffer
	limit     int
	Truncated bool
}

// NewBoundedBuffer returns a buffer that stores at most limit bytes.
func NewBoundedBuffer(limit int) *BoundedBuffer {
	return &BoundedBuffer{limit: limit}
}

// Write stores as much of p as fits under the limit and discards the rest.
// The returned count is always len(p) so upstream writers keep going.
func (b *BoundedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	switch {
	case room <= 0:
		if len(p) > 0 {
			b.Truncated = true
		}
	case len(p) > room:
		b.buf.Write(p[:room])
		b.Truncated = true
	default:
		b.buf.Write(p)
	}
	return len(p), nil
}

// ReadFrom fills the buffer from r, reading at most one byte past the limit
// to learn whether the source was cut short. It never drains r, so an
// arbitrarily large response costs at most limit+1 bytes of transfer.
func (b *BoundedBuffer) ReadFrom(r io.Reader) (int64, error) {
	room := int64(b.limit - b.buf.Len())
	if room < 0 {
		room = 0
	}
	n, err := b.buf.ReadFrom(io.LimitReader(r, room))
	if err != nil {
		return n, err
	}

	var probe [1]byte
	m, err := r.Read(probe[:])
	if m > 0 {
		b.Truncated = true
	}
	if err == io.EOF {
		err = nil
	}
	return n + int64(m), err
}

// Bytes returns the stored contents.
func (b *BoundedBuffer) Bytes() []byte { return b.buf.Bytes() }

// String returns the stored contents as a string.
func (b *BoundedBuffer) String() string { return b.buf.String() }

// Len reports how many bytes are stored, never more than the limit.
func (b *BoundedBuffer) Len() int { return b.buf.Len() }

// Reset empties the buffer and clears the Truncated flag.
func (b *BoundedBuffer) Reset() {
	b.buf.Reset()
	b.Truncated = false
}
