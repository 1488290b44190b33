package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/fogwatch/internal/protocol"
	"github.com/andresmejia3/fogwatch/internal/types"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blankPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := imaging.New(w, h, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func rgba(c color.Color) color.RGBA {
	r, g, b, a := c.RGBA()
	return color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: uint8(a >> 8)}
}

func TestColor(t *testing.T) {
	r := New(types.DefaultCatalog())
	cl, ok := types.DefaultCatalog().Lookup(1)
	require.True(t, ok)

	assert.Equal(t, color.RGBA{R: cl.Color[0], G: cl.Color[1], B: cl.Color[2], A: 255}, r.Color(1))
	assert.Equal(t, fallback, r.Color(42))
}

func TestDrawOutlinesEachDetection(t *testing.T) {
	r := New(types.DefaultCatalog())
	base := imaging.New(120, 100, color.White)
	dets := types.DetectionMap{
		0: {{Class: 0, Box: types.Box{X1: 10, Y1: 30, X2: 60, Y2: 80}, Confidence: 0.87}},
		2: {},
	}

	out := r.Draw(base, dets)
	require.Equal(t, base.Bounds(), out.Bounds())

	assert.Equal(t, r.Color(0), rgba(out.At(10, 55)), "left edge")
	assert.Equal(t, r.Color(0), rgba(out.At(59, 55)), "right edge")
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, rgba(out.At(35, 55)), "interior untouched")
	// The base image is not modified.
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, rgba(base.At(10, 55)))
}

func TestRenderWritesFile(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "nested", "annotated.png")
	dets := types.DetectionMap{3: {{Class: 3, Box: types.Box{X1: 5, Y1: 5, X2: 40, Y2: 40}, Confidence: 0.5}}}

	path, err := New(types.DefaultCatalog()).Render(blankPNG(t, 64, 48), dets, out)
	require.NoError(t, err)
	assert.Equal(t, out, path)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 64, cfg.Width)
	assert.Equal(t, 48, cfg.Height)
}

func TestRenderRejectsUndecodableImage(t *testing.T) {
	_, err := New(types.DefaultCatalog()).Render([]byte("nope"), nil, filepath.Join(t.TempDir(), "x.jpg"))
	assert.Equal(t, "decode", protocol.Kind(err))
}
