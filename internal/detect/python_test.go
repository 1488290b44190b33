package detect

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/andresmejia3/fogwatch/internal/frame"
	"github.com/andresmejia3/fogwatch/internal/protocol"
	"github.com/andresmejia3/fogwatch/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

// MockCloser wraps a bytes.Buffer so in-memory buffers can stand in for the
// script's pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

func newMockPython(t *testing.T, resp pythonResponse) (*Python, *MockCloser) {
	t.Helper()
	stdin := &MockCloser{Buffer: new(bytes.Buffer)}
	data := &MockCloser{Buffer: new(bytes.Buffer)}

	body, err := msgpack.Marshal(&resp)
	require.NoError(t, err)
	require.NoError(t, frame.Send(data, body))

	// Cmd is nil: only the pipe protocol is under test
	return &Python{ID: 1, Stdin: stdin, DataPipe: data}, stdin
}

func TestPythonDetect(t *testing.T) {
	// 1. Script answers for both requested classes plus one it was not asked about
	det := types.Detection{Class: 0, Box: types.Box{X1: 1, Y1: 2, X2: 3, Y2: 4}, Confidence: 0.75}
	p, stdin := newMockPython(t, pythonResponse{
		Status: statusOK,
		Classes: []protocol.ClassResult{
			{Class: 0, Detections: []types.Detection{det}},
			{Class: 2, Detections: []types.Detection{}},
			{Class: 3, Detections: []types.Detection{det}},
		},
	})

	// 2. Run
	got, err := p.Detect(context.Background(), types.FrameTask{Image: []byte{0xDE, 0xAD}, Classes: types.Assignment{0, 2}})
	require.NoError(t, err)

	// 3. The request carried the image and the classes
	sent, err := frame.Recv(stdin, 0)
	require.NoError(t, err)
	var req pythonRequest
	require.NoError(t, msgpack.Unmarshal(sent, &req))
	assert.Equal(t, []byte{0xDE, 0xAD}, req.Image)
	assert.Equal(t, []types.ClassID{0, 2}, req.Classes)

	// 4. Only requested classes come back
	assert.Len(t, got, 2)
	assert.Equal(t, []types.Detection{det}, got[0])
	assert.Empty(t, got[2])
}

func TestPythonDetectStatuses(t *testing.T) {
	tests := []struct {
		name     string
		status   uint8
		wantKind string
	}{
		{"bad image", statusBadData, "decode"},
		{"script failure", statusError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newMockPython(t, pythonResponse{Status: tt.status, Error: "cannot identify image"})
			_, err := p.Detect(context.Background(), types.FrameTask{Image: []byte("x"), Classes: types.Assignment{1}})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "cannot identify image")
			assert.Equal(t, tt.wantKind, protocol.Kind(err))
		})
	}
}

func TestPythonDetectTimesOut(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	p := &Python{
		ID:       7,
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: r,
		timeout:  50 * time.Millisecond,
	}
	_, err := p.Detect(context.Background(), types.FrameTask{Image: []byte("x"), Classes: types.Assignment{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestPythonDetectCanceled(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	p := &Python{ID: 7, Stdin: &MockCloser{Buffer: new(bytes.Buffer)}, DataPipe: r}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := p.Detect(ctx, types.FrameTask{Image: []byte("x"), Classes: types.Assignment{1}})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestPythonDetectGarbageResponse(t *testing.T) {
	data := &MockCloser{Buffer: new(bytes.Buffer)}
	require.NoError(t, frame.Send(data, []byte{0xc1}))
	p := &Python{ID: 1, Stdin: &MockCloser{Buffer: new(bytes.Buffer)}, DataPipe: data}

	_, err := p.Detect(context.Background(), types.FrameTask{Image: []byte("x"), Classes: types.Assignment{1}})
	assert.Equal(t, "decode", protocol.Kind(err))
}

func TestPythonUnusableAfterTimeout(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	p := &Python{
		ID:       7,
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: r,
		timeout:  50 * time.Millisecond,
	}
	task := types.FrameTask{Image: []byte("x"), Classes: types.Assignment{1}}

	_, err := p.Detect(context.Background(), task)
	assert.ErrorIs(t, err, ErrUnavailable)

	// A late answer must not be read as the reply to the next request.
	_, err = p.Detect(context.Background(), task)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestPythonUnusableAfterPipeCloses(t *testing.T) {
	p := &Python{ID: 3, Stdin: &MockCloser{Buffer: new(bytes.Buffer)}, DataPipe: &MockCloser{Buffer: new(bytes.Buffer)}}
	task := types.FrameTask{Image: []byte("x"), Classes: types.Assignment{1}}

	_, err := p.Detect(context.Background(), task)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, p.dead)
}

func TestPythonUnusableAfterCancel(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	p := &Python{ID: 7, Stdin: &MockCloser{Buffer: new(bytes.Buffer)}, DataPipe: r}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Detect(ctx, types.FrameTask{Image: []byte("x"), Classes: types.Assignment{1}})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = p.Detect(context.Background(), types.FrameTask{Image: []byte("x"), Classes: types.Assignment{1}})
	assert.ErrorIs(t, err, ErrUnavailable)
}
