package detect

import (
	"context"
	"image"

	"github.com/andresmejia3/fogwatch/internal/types"
	"github.com/disintegration/imaging"
)

// Simple finds dark connected regions in a grayscale copy of the image and
// reports each as a detection of Class. It needs no model and is useful for
// local testing of a fog cluster.
type Simple struct {
	Class types.ClassID
	// Threshold is the luminance (0-255) below which a pixel counts as dark.
	Threshold float64
	// MinArea drops components smaller than this many (scaled) pixels.
	MinArea int
	// MaxSide downscales larger images before the scan. Zero disables it.
	MaxSide int
}

// NewSimple returns a Simple detector with the defaults used by the CLI.
func NewSimple(class types.ClassID, threshold float64) *Simple {
	return &Simple{Class: class, Threshold: threshold, MinArea: 16, MaxSide: 640}
}

func (s *Simple) Detect(ctx context.Context, task types.FrameTask) (types.DetectionMap, error) {
	out := make(types.DetectionMap, len(task.Classes))
	if !task.Classes.Contains(s.Class) {
		// Nothing this detector can see was requested; still validate the payload.
		if _, _, err := DecodeImage(task.Image); err != nil {
			return nil, err
		}
		for _, id := range task.Classes {
			out[id] = []types.Detection{}
		}
		return out, nil
	}

	img, _, err := DecodeImage(task.Image)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	scale := 1.0
	if s.MaxSide > 0 && (bounds.Dx() > s.MaxSide || bounds.Dy() > s.MaxSide) {
		img = imaging.Fit(img, s.MaxSide, s.MaxSide, imaging.Box)
		scale = float64(bounds.Dx()) / float64(img.Bounds().Dx())
	}
	gray := imaging.Grayscale(img)

	dets, err := s.components(ctx, gray, scale, bounds.Min)
	if err != nil {
		return nil, err
	}
	for _, id := range task.Classes {
		if id == s.Class {
			out[id] = dets
		} else {
			out[id] = []types.Detection{}
		}
	}
	return out, nil
}

func (s *Simple) Close() error { return nil }

// components flood-fills 4-connected regions below the threshold and returns
// their bounding boxes mapped back to source coordinates.
func (s *Simple) components(ctx context.Context, gray *image.NRGBA, scale float64, origin image.Point) ([]types.Detection, error) {
	w, h := gray.Bounds().Dx(), gray.Bounds().Dy()
	seen := make([]bool, w*h)
	dets := []types.Detection{}

	lum := func(x, y int) float64 {
		return float64(gray.Pix[y*gray.Stride+x*4])
	}

	var queue []image.Point
	for y := 0; y < h; y++ {
		if y%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for x := 0; x < w; x++ {
			idx := y*w + x
			if seen[idx] {
				continue
			}
			seen[idx] = true
			if lum(x, y) >= s.Threshold {
				continue
			}

			x0, y0, x1, y1 := x, y, x, y
			area := 0
			var sum float64
			queue = append(queue[:0], image.Point{X: x, Y: y})
			for len(queue) > 0 {
				p := queue[len(queue)-1]
				queue = queue[:len(queue)-1]
				area++
				sum += lum(p.X, p.Y)
				x0, y0 = min(x0, p.X), min(y0, p.Y)
				x1, y1 = max(x1, p.X), max(y1, p.Y)

				for _, n := range [4]image.Point{{X: p.X, Y: p.Y - 1}, {X: p.X, Y: p.Y + 1}, {X: p.X - 1, Y: p.Y}, {X: p.X + 1, Y: p.Y}} {
					if n.X < 0 || n.Y < 0 || n.X >= w || n.Y >= h {
						continue
					}
					ni := n.Y*w + n.X
					if seen[ni] {
						continue
					}
					seen[ni] = true
					if lum(n.X, n.Y) < s.Threshold {
						queue = append(queue, n)
					}
				}
			}

			if area < s.MinArea {
				continue
			}
			conf := 1.0
			if s.Threshold > 0 {
				conf = (s.Threshold - sum/float64(area)) / s.Threshold
			}
			dets = append(dets, types.Detection{
				Class: s.Class,
				Box: types.Box{
					X1: float64(origin.X) + float64(x0)*scale,
					Y1: float64(origin.Y) + float64(y0)*scale,
					X2: float64(origin.X) + float64(x1+1)*scale,
					Y2: float64(origin.Y) + float64(y1+1)*scale,
				},
				Confidence: clamp01(conf),
			})
		}
	}
	return dets, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
