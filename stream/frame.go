package stream

import (
	"encoding/binary"
	"fmt"

	"github.com/lucasb-eyer/go-colorful"
)

// frameMagic prefixes every encoded Frame.
var frameMagic = [4]byte{'G', 'S', 'F', '1'}

const frameHeaderSize = 4 + 8 + 4 + 4 + 2*3

// Rational is a fraction of seconds per tick.
type Rational struct {
	Num int64
	Den int64
}

// DefaultTimeBase is the MPEG-TS clock, 1/90000 seconds per tick.
var DefaultTimeBase = Rational{Num: 1, Den: 90000}

// Seconds converts a tick count into seconds.
func (r Rational) Seconds(ticks int64) float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(ticks) * float64(r.Num) / float64(r.Den)
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// Frame is a channels-first image buffer with its presentation timestamp.
//
// Shape is either [C, H, W] or [1, C, H, W]; Pixels holds the values in
// row-major order for that shape.
type Frame struct {
	Shape    []int
	Pixels   []float32
	PTS      int64
	TimeBase Rational
}

// NewFrame creates a zeroed [C, H, W] Frame.
func NewFrame(channels, height, width int) *Frame {
	f := new(Frame)
	f.Shape = []int{channels, height, width}
	f.Pixels = make([]float32, channels*height*width)
	return f
}

// Squeeze collapses a leading singleton batch dimension.
func (f *Frame) Squeeze() {
	if len(f.Shape) == 4 && f.Shape[0] == 1 {
		f.Shape = f.Shape[1:]
	}
}

// Dims returns channels, height and width of a [C, H, W] Frame.
func (f *Frame) Dims() (c, h, w int, err error) {
	if len(f.Shape) != 3 {
		return 0, 0, 0, fmt.Errorf("expected a [C, H, W] frame, got shape %v", f.Shape)
	}
	c, h, w = f.Shape[0], f.Shape[1], f.Shape[2]
	if len(f.Pixels) != c*h*w {
		return 0, 0, 0, fmt.Errorf("shape %v does not match %d pixel values", f.Shape, len(f.Pixels))
	}
	return c, h, w, nil
}

// At returns the value of channel c at (y, x) of a [C, H, W] Frame.
func (f *Frame) At(c, y, x int) float32 {
	h, w := f.Shape[len(f.Shape)-2], f.Shape[len(f.Shape)-1]
	return f.Pixels[(c*h+y)*w+x]
}

// Color returns the pixel at (y, x) as a colour; single-channel frames are grey.
func (f *Frame) Color(y, x int) colorful.Color {
	if f.Shape[len(f.Shape)-3] < 3 {
		v := float64(f.At(0, y, x))
		return colorful.Color{R: v, G: v, B: v}
	}
	return colorful.Color{
		R: float64(f.At(0, y, x)),
		G: float64(f.At(1, y, x)),
		B: float64(f.At(2, y, x)),
	}
}

// MarshalBinary converts a [C, H, W] Frame into binary data: a fixed header
// followed by H*W RGB triplets.
func (f *Frame) MarshalBinary() (data []byte, err error) {
	c, h, w, err := f.Dims()
	if err != nil {
		return nil, err
	}

	data = make([]byte, frameHeaderSize, frameHeaderSize+h*w*3)
	copy(data, frameMagic[:])
	binary.LittleEndian.PutUint64(data[4:], uint64(f.PTS))
	binary.LittleEndian.PutUint32(data[12:], uint32(f.TimeBase.Num))
	binary.LittleEndian.PutUint32(data[16:], uint32(f.TimeBase.Den))
	binary.LittleEndian.PutUint16(data[20:], uint16(c))
	binary.LittleEndian.PutUint16(data[22:], uint16(h))
	binary.LittleEndian.PutUint16(data[24:], uint16(w))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b := f.Color(y, x).Clamped().RGB255()
			data = append(data, r, g, b)
		}
	}

	return data, nil
}
