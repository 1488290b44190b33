package detect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/fogwatch/internal/frame"
	"github.com/andresmejia3/fogwatch/internal/protocol"
	"github.com/andresmejia3/fogwatch/internal/types"
	"github.com/andresmejia3/fogwatch/internal/utils"
	"github.com/vmihailenco/msgpack/v5"
)

// Status codes written by the model script.
const (
	statusOK      = 0
	statusError   = 1
	statusBadData = 2
)

type pythonRequest struct {
	Image   []byte          `msgpack:"image"`
	Classes []types.ClassID `msgpack:"classes"`
}

type pythonResponse struct {
	Status  uint8                  `msgpack:"status"`
	Classes []protocol.ClassResult `msgpack:"classes"`
	Error   string                 `msgpack:"error"`
}

// PythonConfig configures the model subprocess.
type PythonConfig struct {
	Interpreter string
	Script      string
	Model       string
	ReadTimeout time.Duration
}

// Python runs a long-lived model script (YOLO or similar) and talks to it with
// frames: requests on the child's stdin, responses on a side pipe (FD 3) so the
// script is free to print logs to stdout/stderr.
type Python struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	timeout time.Duration
	mu      sync.Mutex
	// dead is set once the process was killed or its pipes broke.
	dead bool
}

// NewPython spawns the model script.
func NewPython(ctx context.Context, id int, cfg PythonConfig) (*Python, error) {
	interp := cfg.Interpreter
	if interp == "" {
		interp = "python3"
	}
	args := []string{"-u", cfg.Script}
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}

	// 1. Initialize the SafeCommand so crash logs are kept
	py := utils.NewSafeCommand(ctx, interp, args...)

	// 2. Side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("detector %d failed to start: %w", id, err)
	}

	// 3. Only the child holds the write end now
	w.Close()

	return &Python{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
		timeout:  cfg.ReadTimeout,
	}, nil
}

// Detect sends one request to the script and waits for its answer.
func (p *Python) Detect(ctx context.Context, task types.FrameTask) (types.DetectionMap, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dead {
		return nil, fmt.Errorf("detector %d: %w", p.ID, ErrUnavailable)
	}

	req, err := msgpack.Marshal(&pythonRequest{Image: task.Image, Classes: task.Classes})
	if err != nil {
		return nil, fmt.Errorf("failed to encode detector request: %w", err)
	}

	resp, err := p.communicate(ctx, req)
	if err != nil {
		return nil, err
	}

	var out pythonResponse
	if err := msgpack.Unmarshal(resp, &out); err != nil {
		return nil, &protocol.DecodeError{What: "detector response", Err: err}
	}
	switch out.Status {
	case statusOK:
	case statusBadData:
		return nil, &protocol.DecodeError{What: "image", Err: errors.New(out.Error)}
	default:
		return nil, fmt.Errorf("python worker error: %s", out.Error)
	}

	dets := make(types.DetectionMap, len(out.Classes))
	for _, cr := range out.Classes {
		if cr.Error != "" || !task.Classes.Contains(cr.Class) {
			continue
		}
		dets[cr.Class] = cr.Detections
	}
	return dets, nil
}

func (p *Python) communicate(ctx context.Context, data []byte) ([]byte, error) {
	if err := frame.Send(p.Stdin, data); err != nil {
		p.kill()
		return nil, fmt.Errorf("detector %d write failed: %v: %w", p.ID, err, ErrUnavailable)
	}

	type readResult struct {
		body []byte
		err  error
	}
	done := make(chan readResult, 1)
	go func() {
		body, err := frame.Recv(p.DataPipe, 0)
		done <- readResult{body, err}
	}()

	var timeout <-chan time.Time
	if p.timeout > 0 {
		timer := time.NewTimer(p.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case res := <-done:
		if res.err != nil {
			p.kill()
			return nil, fmt.Errorf("detector %d read failed: %v: %w", p.ID, res.err, ErrUnavailable)
		}
		return res.body, nil
	case <-timeout:
		// A late answer would desync the pipe, so the process is not reusable.
		p.kill()
		return nil, fmt.Errorf("detector %d timed out after %s: %w", p.ID, p.timeout, ErrUnavailable)
	case <-ctx.Done():
		p.kill()
		return nil, ctx.Err()
	}
}

// kill stops the process and marks p unusable. Callers hold p.mu.
func (p *Python) kill() {
	p.dead = true
	if p.Cmd != nil && p.Cmd.Process != nil {
		_ = p.Cmd.Process.Kill()
	}
}

// Logs returns what the script wrote to stderr so far.
func (p *Python) Logs() string {
	if p.Cmd == nil {
		return ""
	}
	return p.Cmd.Stderr.String()
}

// Close shuts the script down and reaps it.
func (p *Python) Close() error {
	p.Stdin.Close()
	p.DataPipe.Close()
	if p.Cmd == nil {
		return nil
	}
	return p.Cmd.Wait()
}
