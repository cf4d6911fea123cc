package nn

import (
	"fmt"

	"github.com/bmharper/cimg/v2"
)

// ImageCrop is a window onto a 24-bit RGB image.
// Cropping never copies pixels, so many crops can share one frame.
type ImageCrop struct {
	Image  *cimg.Image // The whole frame
	Window Rect        // Region of Image covered by this crop
}

// WholeImage returns a crop that covers all of img, which must be RGB
func WholeImage(img *cimg.Image) ImageCrop {
	return ImageCrop{
		Image:  img,
		Window: MakeRect(0, 0, img.Width, img.Height),
	}
}

func (c ImageCrop) Width() int {
	return int(c.Window.Width)
}

func (c ImageCrop) Height() int {
	return int(c.Window.Height)
}

// Crop returns a sub-window. Coordinates are relative to c, and x2,y2 are exclusive.
// Panics if the new window does not fit inside c.
func (c ImageCrop) Crop(x1, y1, x2, y2 int) ImageCrop {
	if x1 < 0 || y1 < 0 || x2 < x1 || y2 < y1 || x2 > c.Width() || y2 > c.Height() {
		panic(fmt.Sprintf("Crop (%v,%v)-(%v,%v) is outside of %v x %v", x1, y1, x2, y2, c.Width(), c.Height()))
	}
	return ImageCrop{
		Image:  c.Image,
		Window: MakeRect(int(c.Window.X)+x1, int(c.Window.Y)+y1, x2-x1, y2-y1),
	}
}

func (c ImageCrop) IsWhole() bool {
	return c.Window == MakeRect(0, 0, c.Image.Width, c.Image.Height)
}

// ToCImage returns the pixels of the crop as a standalone image.
// A whole-image crop returns the original image, so callers must not modify it.
func (c ImageCrop) ToCImage() *cimg.Image {
	if c.IsWhole() {
		return c.Image
	}
	out := cimg.NewImage(c.Width(), c.Height(), c.Image.Format)
	out.CopyImageRect(c.Image, int(c.Window.X), int(c.Window.Y), int(c.Window.X2()), int(c.Window.Y2()), 0, 0)
	return out
}
