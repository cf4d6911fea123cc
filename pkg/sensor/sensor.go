// Package sensor defines the messages that arrive from camera drivers, and the messages
// that this node produces.
package sensor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// Image encodings
const (
	EncodingRGB8    = "rgb8"
	EncodingBGR8    = "bgr8"
	EncodingMono8   = "mono8"
	EncodingJPEG    = "jpeg"
	EncodingDepth16 = "16UC1" // uint16 depth in millimeters
	EncodingDepth32 = "32FC1" // float32 depth in meters
)

// Limits on incoming images. Anything larger is rejected before its sizes are multiplied together.
const (
	MaxImageSide = 1 << 15
	MaxImageStep = MaxImageSide * 8 // Widest row of the widest pixel format
)

var ErrUnsupportedEncoding = errors.New("Unsupported image encoding")
var ErrTruncated = errors.New("Image data is truncated")
var ErrTooLarge = errors.New("Image is too large")

// Header is attached to every message by the transport layer
type Header struct {
	Seq     uint32 `cbor:"seq" json:"seq"`
	Stamp   int64  `cbor:"stamp" json:"stamp"` // Unix nanoseconds
	FrameID string `cbor:"frameID" json:"frameID"`
}

func MakeHeader(seq uint32, stamp time.Time, frameID string) Header {
	return Header{
		Seq:     seq,
		Stamp:   stamp.UnixNano(),
		FrameID: frameID,
	}
}

func (h Header) Time() time.Time {
	if h.Stamp == 0 {
		return time.Time{}
	}
	return time.Unix(0, h.Stamp)
}

// Image is a 2D grid of pixels, or of depth samples.
// For compressed encodings (eg jpeg), Step is zero and Data holds the compressed stream.
type Image struct {
	Header   Header `cbor:"header" json:"header"`
	Width    int    `cbor:"width" json:"width"`
	Height   int    `cbor:"height" json:"height"`
	Encoding string `cbor:"encoding" json:"encoding"`
	Step     int    `cbor:"step" json:"step"` // Bytes per row
	Data     []byte `cbor:"data" json:"-"`
}

// Clone returns a deep copy of the image
func (m *Image) Clone() *Image {
	c := *m
	if m.Data != nil {
		c.Data = make([]byte, len(m.Data))
		copy(c.Data, m.Data)
	}
	return &c
}

// IsEmpty returns true if the image holds no pixels (eg before the first frame has arrived)
func (m *Image) IsEmpty() bool {
	return len(m.Data) == 0
}

// BytesPerPixel returns the number of bytes per pixel of an uncompressed encoding, or 0
func BytesPerPixel(encoding string) int {
	switch encoding {
	case EncodingRGB8, EncodingBGR8:
		return 3
	case EncodingMono8:
		return 1
	case EncodingDepth16:
		return 2
	case EncodingDepth32:
		return 4
	}
	return 0
}

// validateRaw checks that an uncompressed image holds enough bytes for its dimensions
func (m *Image) validateRaw() error {
	bpp := BytesPerPixel(m.Encoding)
	if bpp == 0 {
		return fmt.Errorf("%w '%v'", ErrUnsupportedEncoding, m.Encoding)
	}
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("Invalid image dimensions %v x %v", m.Width, m.Height)
	}
	if err := m.checkLimits(); err != nil {
		return err
	}
	if m.Step < m.Width*bpp {
		return fmt.Errorf("Image step %v is less than width %v * %v", m.Step, m.Width, bpp)
	}
	if len(m.Data) < m.Step*(m.Height-1)+m.Width*bpp {
		return fmt.Errorf("%w: %v bytes for %v x %v %v", ErrTruncated, len(m.Data), m.Width, m.Height, m.Encoding)
	}
	return nil
}

// checkLimits rejects dimensions whose products could overflow
func (m *Image) checkLimits() error {
	if m.Width > MaxImageSide || m.Height > MaxImageSide || m.Step > MaxImageStep {
		return fmt.Errorf("%w: %v x %v, step %v", ErrTooLarge, m.Width, m.Height, m.Step)
	}
	return nil
}

// DepthAt returns the depth in meters at (x,y) of a depth image.
// Returns NaN for a missing sample (zero for 16UC1) or an unsupported encoding.
func (m *Image) DepthAt(x, y int) float32 {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return float32(math.NaN())
	}
	switch m.Encoding {
	case EncodingDepth16:
		i := y*m.Step + x*2
		if i < 0 || i+2 > len(m.Data) {
			return float32(math.NaN())
		}
		mm := binary.LittleEndian.Uint16(m.Data[i:])
		if mm == 0 {
			return float32(math.NaN())
		}
		return float32(mm) / 1000
	case EncodingDepth32:
		i := y*m.Step + x*4
		if i < 0 || i+4 > len(m.Data) {
			return float32(math.NaN())
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(m.Data[i:]))
	}
	return float32(math.NaN())
}
