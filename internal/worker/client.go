// Package worker implements the fog node side of a detection round: answer the
// coordinator's availability check, receive an assignment and the image, run the
// detector and report one result frame.
package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/andresmejia3/fogwatch/internal/detect"
	"github.com/andresmejia3/fogwatch/internal/frame"
	"github.com/andresmejia3/fogwatch/internal/protocol"
	"github.com/andresmejia3/fogwatch/internal/types"
)

// Options tunes a Client.
type Options struct {
	MaxFrameBytes uint64
	// MinConfidence drops detections scored below it.
	MinConfidence float64
	Logger        *slog.Logger
}

// Client is one connection to the coordinator.
type Client struct {
	ID       int
	conn     net.Conn
	r        *bufio.Reader
	detector detect.Detector
	policy   Policy
	opts     Options
	log      *slog.Logger

	rounds int
}

// Dial connects to the coordinator at addr.
func Dial(ctx context.Context, addr string, id int, d detect.Detector, p Policy, opts Options) (*Client, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, protocol.Transport("connect", err)
	}
	return NewClient(conn, id, d, p, opts), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn, id int, d detect.Detector, p Policy, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if p == nil {
		p = Always()
	}
	return &Client{
		ID:       id,
		conn:     conn,
		r:        bufio.NewReader(conn),
		detector: d,
		policy:   p,
		opts:     opts,
		log:      logger.With("worker", id, "coordinator", conn.RemoteAddr().String()),
	}
}

// Rounds returns how many rounds this client reported results for.
func (c *Client) Rounds() int { return c.rounds }

// Run answers availability checks until the coordinator closes the connection
// (nil), ctx ends (ctx.Err()) or the session breaks (a protocol/transport error).
// The connection is closed on return.
func (c *Client) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()
	defer c.conn.Close()

	c.log.Info("connected to coordinator")
	for {
		err := protocol.ReadPoll(c.r)
		if errors.Is(err, io.EOF) {
			c.log.Info("coordinator closed the connection", "rounds", c.rounds)
			return nil
		}
		if err != nil {
			return c.fail(ctx, err)
		}

		accept := c.policy.ShouldAcceptWork()
		if err := protocol.WriteReply(c.conn, accept); err != nil {
			return c.fail(ctx, err)
		}
		if !accept {
			c.log.Info("declined round")
			continue
		}

		if err := c.serveRound(ctx); err != nil {
			return c.fail(ctx, err)
		}
		c.rounds++
	}
}

func (c *Client) fail(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.log.Error("session failed, closing connection", "kind", protocol.Kind(err), "error", err)
	return err
}

// serveRound handles one accepted round: assignment, image, detect, report.
func (c *Client) serveRound(ctx context.Context) error {
	// 1. Assignment always precedes the image
	body, err := frame.Recv(c.r, c.opts.MaxFrameBytes)
	if err != nil {
		return err
	}
	assignment, err := protocol.DecodeAssignment(body)
	if err != nil {
		return &protocol.ProtocolError{Reason: "undecodable assignment frame", Err: err}
	}
	c.log.Info("assigned classes", "classes", assignment)

	// 2. Shared image
	image, err := frame.Recv(c.r, c.opts.MaxFrameBytes)
	if err != nil {
		return err
	}

	// 3. Detect and fold failures into empty per-class results
	started := time.Now()
	results, detectErr := c.detect(ctx, types.FrameTask{Image: image, Classes: assignment})

	payload, err := protocol.EncodeResult(results)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := frame.Send(c.conn, payload); err != nil {
		return err
	}
	c.log.Info("reported detections", "classes", len(results), "detections", countResults(results), "took", time.Since(started))

	// A dead detector would fail every later round, so stop volunteering and
	// let the coordinator drop this connection.
	if errors.Is(detectErr, detect.ErrUnavailable) {
		return detectErr
	}
	return nil
}

// detect runs the detector and returns exactly one entry per assigned class,
// along with the detector's error, if any.
func (c *Client) detect(ctx context.Context, task types.FrameTask) ([]protocol.ClassResult, error) {
	dets, err := c.detector.Detect(ctx, task)
	if err != nil {
		c.log.Warn("detection failed, reporting empty results", "kind", protocol.Kind(err), "error", err)
	}

	out := make([]protocol.ClassResult, 0, len(task.Classes))
	for _, id := range task.Classes {
		cr := protocol.ClassResult{Class: id, Detections: []types.Detection{}}
		switch found, ok := dets[id]; {
		case err != nil:
			cr.Error = err.Error()
		case !ok:
			cr.Error = "detector did not evaluate class"
			c.log.Warn("class missing from detector output", "class", id)
		default:
			cr.Detections = c.filter(id, found)
		}
		out = append(out, cr)
	}
	return out, err
}

func (c *Client) filter(id types.ClassID, found []types.Detection) []types.Detection {
	kept := make([]types.Detection, 0, len(found))
	for _, d := range found {
		if d.Confidence < c.opts.MinConfidence || d.Confidence > 1 || !d.Box.Valid() {
			continue
		}
		d.Class = id
		kept = append(kept, d)
	}
	return kept
}

func countResults(results []protocol.ClassResult) int {
	n := 0
	for _, cr := range results {
		n += len(cr.Detections)
	}
	return n
}
