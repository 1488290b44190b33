// Package render draws merged detections onto the round's image.
package render

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/andresmejia3/fogwatch/internal/detect"
	"github.com/andresmejia3/fogwatch/internal/types"
	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
)

var font *truetype.Font

func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// fallback is used for classes missing from the catalog.
var fallback = color.RGBA{R: 200, G: 200, B: 200, A: 255}

// Renderer turns a detection map into an annotated copy of the image. Colors
// come from the catalog, so a class looks the same in every run.
type Renderer struct {
	Catalog   types.Catalog
	LineWidth float64
	FontSize  float64
}

// New returns a Renderer with the default stroke and label size.
func New(catalog types.Catalog) *Renderer {
	return &Renderer{Catalog: catalog, LineWidth: 2, FontSize: 14}
}

// Color returns the fixed color for a class.
func (r *Renderer) Color(id types.ClassID) color.RGBA {
	if cl, ok := r.Catalog.Lookup(id); ok {
		return color.RGBA{R: cl.Color[0], G: cl.Color[1], B: cl.Color[2], A: 255}
	}
	return fallback
}

// Draw returns a new image with one labeled box per detection.
func (r *Renderer) Draw(base image.Image, dets types.DetectionMap) image.Image {
	dc := gg.NewContextForImage(base)
	dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: r.FontSize}))
	dc.SetLineWidth(r.LineWidth)

	for _, id := range dets.Classes() {
		c := r.Color(id)
		name := r.Catalog.Name(id)
		for _, d := range dets[id] {
			b := d.Box
			dc.SetColor(c)
			dc.DrawRectangle(b.X1, b.Y1, b.X2-b.X1, b.Y2-b.Y1)
			dc.Stroke()

			label := fmt.Sprintf("%s: %.2f", name, d.Confidence)
			y := b.Y1 - 4
			if y < r.FontSize {
				y = b.Y1 + r.FontSize
			}
			dc.DrawString(label, b.X1+2, y)
		}
	}
	return dc.Image()
}

// Render decodes the base image, draws dets and saves the result to out. The
// output format follows the file extension. It returns the written path.
func (r *Renderer) Render(base []byte, dets types.DetectionMap, out string) (string, error) {
	img, _, err := detect.DecodeImage(base)
	if err != nil {
		return "", err
	}
	annotated := r.Draw(img, dets)

	if dir := filepath.Dir(out); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := imaging.Save(annotated, out); err != nil {
		return "", fmt.Errorf("save annotated image: %w", err)
	}
	return out, nil
}
