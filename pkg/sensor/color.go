package sensor

import (
	"fmt"

	"github.com/bmharper/cimg/v2"
)

// DecodeColor converts a color frame into a packed 24-bit RGB image, which is the
// representation our NN detectors consume.
// The returned image never aliases m.Data.
func DecodeColor(m *Image) (*cimg.Image, error) {
	if m.Encoding == EncodingJPEG {
		if len(m.Data) == 0 {
			return nil, fmt.Errorf("%w: empty jpeg", ErrTruncated)
		}
		img, err := cimg.Decompress(m.Data)
		if err != nil {
			return nil, fmt.Errorf("Failed to decompress jpeg: %w", err)
		}
		if img.NChan() != 3 {
			img = img.ToRGB()
		}
		return img, nil
	}

	switch m.Encoding {
	case EncodingRGB8, EncodingBGR8, EncodingMono8:
	default:
		return nil, fmt.Errorf("%w '%v' for a color frame", ErrUnsupportedEncoding, m.Encoding)
	}
	if err := m.validateRaw(); err != nil {
		return nil, err
	}

	dst := cimg.NewImage(m.Width, m.Height, cimg.PixelFormatRGB)
	for y := 0; y < m.Height; y++ {
		src := m.Data[y*m.Step:]
		out := dst.Pixels[y*dst.Stride : y*dst.Stride+m.Width*3]
		switch m.Encoding {
		case EncodingRGB8:
			copy(out, src[:m.Width*3])
		case EncodingBGR8:
			for x := 0; x < m.Width; x++ {
				out[x*3+0] = src[x*3+2]
				out[x*3+1] = src[x*3+1]
				out[x*3+2] = src[x*3+0]
			}
		case EncodingMono8:
			for x := 0; x < m.Width; x++ {
				out[x*3+0] = src[x]
				out[x*3+1] = src[x]
				out[x*3+2] = src[x]
			}
		}
	}
	return dst, nil
}

// EncodeRGB wraps an RGB image into an rgb8 Image message.
// The pixels are copied, so the caller is free to reuse img.
func EncodeRGB(header Header, img *cimg.Image) *Image {
	m := &Image{
		Header:   header,
		Width:    img.Width,
		Height:   img.Height,
		Encoding: EncodingRGB8,
		Step:     img.Width * 3,
		Data:     make([]byte, img.Width*img.Height*3),
	}
	for y := 0; y < img.Height; y++ {
		copy(m.Data[y*m.Step:(y+1)*m.Step], img.Pixels[y*img.Stride:y*img.Stride+m.Step])
	}
	return m
}

// EncodeJPEG compresses an RGB image into a jpeg Image message
func EncodeJPEG(header Header, img *cimg.Image, quality int) (*Image, error) {
	b, err := cimg.Compress(img, cimg.MakeCompressParams(cimg.Sampling420, quality, 0))
	if err != nil {
		return nil, err
	}
	return &Image{
		Header:   header,
		Width:    img.Width,
		Height:   img.Height,
		Encoding: EncodingJPEG,
		Data:     b,
	}, nil
}
