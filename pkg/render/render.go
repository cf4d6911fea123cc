// Package render draws NN detections onto images
package render

import (
	"fmt"
	"image"
	"image/color"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/syncdetect/pkg/nn"
	"github.com/fogleman/gg"
)

// Options control how boxes are drawn
type Options struct {
	LineWidth   float64
	ShowScore   bool    // Append the confidence to the label, eg "person: 87%"
	MinScore    float32 // Objects below this confidence are not drawn
	LabelHeight float64 // Height of the label background strip
}

func DefaultOptions() Options {
	return Options{
		LineWidth:   2,
		ShowScore:   true,
		MinScore:    0,
		LabelHeight: 16,
	}
}

// A fixed palette, so that a class is always drawn in the same color
var palette = []color.RGBA{
	{230, 25, 75, 255},
	{60, 180, 75, 255},
	{255, 225, 25, 255},
	{0, 130, 200, 255},
	{245, 130, 48, 255},
	{145, 30, 180, 255},
	{70, 240, 240, 255},
	{240, 50, 230, 255},
	{210, 245, 60, 255},
	{250, 190, 212, 255},
	{0, 128, 128, 255},
	{170, 110, 40, 255},
}

// ClassColor returns the box color used for the class
func ClassColor(class int) color.RGBA {
	if class < 0 {
		class = -class
	}
	return palette[class%len(palette)]
}

// DrawDetections returns a new RGB image, which is 'img' with the objects drawn on top.
// 'img' is not modified.
func DrawDetections(img *cimg.Image, objects []nn.ObjectDetection, labels *nn.LabelIndex, opt Options) *cimg.Image {
	rgba := toRGBA(img)
	dc := gg.NewContextForRGBA(rgba)
	dc.SetLineWidth(opt.LineWidth)

	for _, obj := range objects {
		if obj.Confidence < opt.MinScore {
			continue
		}
		c := ClassColor(obj.Class)
		x := float64(obj.Box.X)
		y := float64(obj.Box.Y)
		w := float64(obj.Box.Width)
		h := float64(obj.Box.Height)

		dc.SetColor(c)
		dc.DrawRectangle(x, y, w, h)
		dc.Stroke()

		text := labels.Name(obj.Class)
		if opt.ShowScore {
			text = fmt.Sprintf("%v: %.0f%%", text, obj.Confidence*100)
		}
		tw, _ := dc.MeasureString(text)
		ly := y - opt.LabelHeight
		if ly < 0 {
			// No room above the box, so put the label inside it
			ly = y
		}
		dc.DrawRectangle(x, ly, tw+6, opt.LabelHeight)
		dc.Fill()
		dc.SetColor(textColorFor(c))
		dc.DrawStringAnchored(text, x+3, ly+opt.LabelHeight/2, 0, 0.35)
	}

	return fromRGBA(rgba)
}

// Black text on light backgrounds, white text on dark backgrounds
func textColorFor(bg color.RGBA) color.Color {
	lum := 0.299*float64(bg.R) + 0.587*float64(bg.G) + 0.114*float64(bg.B)
	if lum > 140 {
		return color.Black
	}
	return color.White
}

func toRGBA(img *cimg.Image) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	nchan := img.NChan()
	for y := 0; y < img.Height; y++ {
		src := img.Pixels[y*img.Stride:]
		out := dst.Pix[y*dst.Stride:]
		for x := 0; x < img.Width; x++ {
			if nchan == 1 {
				out[x*4+0] = src[x]
				out[x*4+1] = src[x]
				out[x*4+2] = src[x]
			} else {
				out[x*4+0] = src[x*nchan+0]
				out[x*4+1] = src[x*nchan+1]
				out[x*4+2] = src[x*nchan+2]
			}
			out[x*4+3] = 255
		}
	}
	return dst
}

func fromRGBA(src *image.RGBA) *cimg.Image {
	b := src.Bounds()
	dst := cimg.NewImage(b.Dx(), b.Dy(), cimg.PixelFormatRGB)
	for y := 0; y < dst.Height; y++ {
		in := src.Pix[y*src.Stride:]
		out := dst.Pixels[y*dst.Stride:]
		for x := 0; x < dst.Width; x++ {
			out[x*3+0] = in[x*4+0]
			out[x*3+1] = in[x*4+1]
			out[x*3+2] = in[x*4+2]
		}
	}
	return dst
}
