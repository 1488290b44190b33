// Package detect provides the detection capabilities a worker can run:
// given image bytes and the requested classes, return per-class detections.
package detect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/andresmejia3/fogwatch/internal/protocol"
	"github.com/andresmejia3/fogwatch/internal/types"
)

// Detector turns an image plus a class set into detections grouped by class.
//
// Implementations return a *protocol.DecodeError when the image cannot be
// decoded. A class missing from the returned map means the detector could not
// evaluate it.
type Detector interface {
	Detect(ctx context.Context, task types.FrameTask) (types.DetectionMap, error)
	Close() error
}

// ErrUnavailable is returned once a detector can no longer serve requests, for
// example after its model process was killed. Callers should stop offering work.
var ErrUnavailable = errors.New("detector unavailable")

// DecodeImage decodes any of the registered formats (jpeg, png, gif, bmp, webp).
func DecodeImage(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", &protocol.DecodeError{What: "image", Err: fmt.Errorf("empty payload")}
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", &protocol.DecodeError{What: "image", Err: err}
	}
	return img, format, nil
}

// Static returns canned detections. It is what the integration tests and the
// "static" detector setting use in place of a model.
type Static struct {
	Detections types.DetectionMap
	Err        error
	// Validate forces the image to decode before answering.
	Validate bool
}

func (s *Static) Detect(ctx context.Context, task types.FrameTask) (types.DetectionMap, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Validate {
		if _, _, err := DecodeImage(task.Image); err != nil {
			return nil, err
		}
	}
	out := make(types.DetectionMap, len(task.Classes))
	for _, id := range task.Classes {
		out[id] = append([]types.Detection(nil), s.Detections[id]...)
	}
	return out, nil
}

func (s *Static) Close() error { return nil }
