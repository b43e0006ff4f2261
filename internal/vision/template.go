package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"

	"automacro/internal/errs"
)

// DefaultThreshold is the confidence a match needs when the caller has no opinion.
const DefaultThreshold = 0.8

// Template is a reference image to locate on screen. Region, when set, is the
// default search area in screen coordinates; Threshold 0 means DefaultThreshold.
type Template struct {
	ID        string
	Region    *image.Rectangle
	Threshold float64

	gray *image.Gray
}

// NewTemplate converts img to the grayscale form used for matching.
func NewTemplate(id string, img image.Image) (*Template, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, errs.Invalid("template %q: empty image", id)
	}
	return &Template{ID: id, gray: toGray(img)}, nil
}

// DecodeTemplate builds a template from PNG or JPEG bytes.
func DecodeTemplate(id string, data []byte) (*Template, error) {
	if len(data) == 0 {
		return nil, errs.Invalid("template %q: no image data", id)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: template %q: %v", errs.ErrInvalidArgument, id, err)
	}
	return NewTemplate(id, img)
}

// Size is the template's width and height in pixels.
func (t *Template) Size() image.Point {
	if t == nil || t.gray == nil {
		return image.Point{}
	}
	return t.gray.Rect.Size()
}

func (t *Template) empty() bool {
	return t == nil || t.gray == nil || t.gray.Rect.Empty()
}

// toGray returns a luminance copy of img with its origin at (0,0).
func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	switch src := img.(type) {
	case *image.Gray:
		for y := 0; y < b.Dy(); y++ {
			copy(out.Pix[y*out.Stride:y*out.Stride+b.Dx()], src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):])
		}
	case *image.RGBA:
		for y := 0; y < b.Dy(); y++ {
			row := src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):]
			dst := out.Pix[y*out.Stride:]
			for x := 0; x < b.Dx(); x++ {
				r, g, bl := uint32(row[4*x]), uint32(row[4*x+1]), uint32(row[4*x+2])
				dst[x] = uint8((299*r + 587*g + 114*bl + 500) / 1000)
			}
		}
	default:
		draw.Draw(out, out.Rect, img, b.Min, draw.Src)
	}
	return out
}
