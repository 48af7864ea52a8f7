// Package ledserial implements the strand controller serial protocol.
//
// A frame is sent as six (tag, value) byte pairs in a fixed order: red, green,
// blue, speed, length and finally the 1-based strand selector. There is no
// framing, checksum or acknowledgment.
package ledserial

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
)

// FieldTag is the one-byte ASCII tag preceding each value on the wire.
type FieldTag uint8

const (
	TagRed    FieldTag = 'r'
	TagGreen  FieldTag = 'g'
	TagBlue   FieldTag = 'b'
	TagSpeed  FieldTag = 's'
	TagLength FieldTag = 'l'
	TagStrand FieldTag = 'd'
)

// FieldOrder is the order in which fields are written to the wire.
var FieldOrder = [...]FieldTag{TagRed, TagGreen, TagBlue, TagSpeed, TagLength, TagStrand}

// FrameSize is the number of bytes a single frame occupies on the wire.
const FrameSize = 2 * len(FieldOrder)

// String returns a string representation of the tag.
func (t FieldTag) String() string {
	switch t {
	case TagRed:
		return "red"
	case TagGreen:
		return "green"
	case TagBlue:
		return "blue"
	case TagSpeed:
		return "speed"
	case TagLength:
		return "length"
	case TagStrand:
		return "strand"
	default:
		return fmt.Sprintf("FieldTag(%d)", uint8(t))
	}
}

// ErrUnknownTag is returned when a byte that should be a field tag is not the
// expected one.
var ErrUnknownTag = errors.New("unexpected field tag")

// Frame is a single animation frame. Frames are immutable values.
type Frame struct {
	Red    uint8
	Green  uint8
	Blue   uint8
	Speed  uint8
	Length uint8
}

// NewFrame creates a frame from unbounded integers, clamping each into
// [0, 255].
func NewFrame(r, g, b, speed, length int) Frame {
	return Frame{
		Red:    ClampByte(r),
		Green:  ClampByte(g),
		Blue:   ClampByte(b),
		Speed:  ClampByte(speed),
		Length: ClampByte(length),
	}
}

// String implements fmt.Stringer.
func (f Frame) String() string {
	return fmt.Sprintf("{%d,%d,%d,%d,%d}", f.Red, f.Green, f.Blue, f.Speed, f.Length)
}

// ClampByte clamps v into [0, 255].
func ClampByte(v int) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 0xFF:
		return 0xFF
	default:
		return uint8(v)
	}
}

// StrandSelector returns the wire value for the 0-based strand index. The
// controllers count strands from 1.
func StrandSelector(strand int) uint8 {
	return ClampByte(strand + 1)
}

// AppendFrame appends the wire encoding of the frame for the given 0-based
// strand index to dst.
func AppendFrame(dst []byte, f Frame, strand int) []byte {
	return append(dst,
		byte(TagRed), f.Red,
		byte(TagGreen), f.Green,
		byte(TagBlue), f.Blue,
		byte(TagSpeed), f.Speed,
		byte(TagLength), f.Length,
		byte(TagStrand), StrandSelector(strand),
	)
}

// WriteFrame writes the frame to w one field pair at a time, waiting pause
// between pairs so that the controller can keep up. It returns early if ctx is
// canceled while waiting. A failed write abandons the rest of the frame.
func WriteFrame(ctx context.Context, w io.Writer, f Frame, strand int, pause time.Duration) error {
	b := AppendFrame(make([]byte, 0, FrameSize), f, strand)

	for i := 0; i < len(b); i += 2 {
		if i > 0 && pause > 0 {
			if err := sleep(ctx, pause); err != nil {
				return err
			}
		}

		if _, err := w.Write(b[i : i+2]); err != nil {
			return fmt.Errorf("failed to write %s field: %w", FieldTag(b[i]), err)
		}
	}

	return nil
}

// ReadFrame reads a single frame from r. Leading line breaks are skipped, which
// lets it read the output of a simulated channel. The returned strand index
// is 0-based.
func ReadFrame(r io.ByteReader) (Frame, int, error) {
	var values [len(FieldOrder)]uint8

	for i, want := range FieldOrder {
		tag, err := r.ReadByte()
		if err != nil {
			return Frame{}, 0, fmt.Errorf("failed to read %s tag: %w", want, err)
		}

		if i == 0 {
			for tag == '\n' || tag == '\r' {
				if tag, err = r.ReadByte(); err != nil {
					return Frame{}, 0, fmt.Errorf("failed to read %s tag: %w", want, err)
				}
			}
		}

		if FieldTag(tag) != want {
			return Frame{}, 0, errors.Wrapf(ErrUnknownTag, "got %q, want %q", tag, byte(want))
		}

		v, err := r.ReadByte()
		if err != nil {
			return Frame{}, 0, fmt.Errorf("failed to read %s value: %w", want, err)
		}
		values[i] = v
	}

	f := Frame{
		Red:    values[0],
		Green:  values[1],
		Blue:   values[2],
		Speed:  values[3],
		Length: values[4],
	}
	return f, int(values[5]) - 1, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
