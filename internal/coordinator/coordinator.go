// Package coordinator owns round orchestration: it gathers a quorum of worker
// connections, polls them for availability, splits the class universe among the
// volunteers, runs one session per volunteer and merges what comes back.
package coordinator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/andresmejia3/fogwatch/internal/frame"
	"github.com/andresmejia3/fogwatch/internal/protocol"
	"github.com/andresmejia3/fogwatch/internal/types"
	"github.com/andresmejia3/fogwatch/internal/utils"
	"github.com/google/uuid"
)

// DefaultQuorum is the number of workers the fog deployment expects.
const DefaultQuorum = 4

// Options configures a Server.
type Options struct {
	Quorum  int
	Classes []types.ClassID

	// AcceptTimeout bounds the wait for the whole quorum. Zero waits forever.
	AcceptTimeout time.Duration
	// PollTimeout bounds each worker's availability reply.
	PollTimeout time.Duration
	// SessionTimeout bounds dispatch plus collection for one worker. A session
	// past its deadline is demoted to failed.
	SessionTimeout time.Duration
	MaxFrameBytes  uint64

	Shuffle Shuffler
	Logger  *slog.Logger
	// OnRoundStart is called once the volunteers are known, before dispatch.
	OnRoundStart func(roundID string, sessions int)
	// OnSessionDone is called from the session goroutine once it finished.
	OnSessionDone func(worker string, err error)
}

// peer is one accepted worker connection. All reads go through r so bytes
// buffered while parsing the text reply are not lost.
type peer struct {
	conn net.Conn
	r    *bufio.Reader
	addr string
}

func (p *peer) close() { _ = p.conn.Close() }

// Server is the coordinator.
type Server struct {
	ln    net.Listener
	opts  Options
	log   *slog.Logger
	peers []*peer
	round int
}

// New wraps a listener. The listener is owned by the Server from now on.
func New(ln net.Listener, opts Options) *Server {
	if opts.Quorum <= 0 {
		opts.Quorum = DefaultQuorum
	}
	if opts.Shuffle == nil {
		opts.Shuffle = RandomShuffler(nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{ln: ln, opts: opts, log: logger}
}

// Addr is the listening address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Workers returns the addresses of the connections still in the pool.
func (s *Server) Workers() []string {
	out := make([]string, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p.addr)
	}
	return out
}

// AcceptQuorum blocks until exactly Quorum workers are connected.
func (s *Server) AcceptQuorum(ctx context.Context) error {
	if d, ok := s.ln.(interface{ SetDeadline(time.Time) error }); ok {
		if s.opts.AcceptTimeout > 0 {
			_ = d.SetDeadline(time.Now().Add(s.opts.AcceptTimeout))
			defer d.SetDeadline(time.Time{})
		}
		stop := context.AfterFunc(ctx, func() { _ = d.SetDeadline(time.Now()) })
		defer stop()
	}

	for len(s.peers) < s.opts.Quorum {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return protocol.Transport(fmt.Sprintf("accept (%d of %d connected)", len(s.peers), s.opts.Quorum), err)
		}
		p := &peer{conn: conn, r: bufio.NewReader(conn), addr: conn.RemoteAddr().String()}
		s.peers = append(s.peers, p)
		s.log.Info("worker connected", "worker", p.addr, "connected", len(s.peers), "quorum", s.opts.Quorum)
	}
	return nil
}

// pollResult is one worker's answer to the availability check.
type pollResult struct {
	available bool
	err       error
}

// Poll sends the availability check to every pooled connection concurrently.
// It returns the volunteers (in pool order) and the ones that declined. Peers
// that fail to answer are closed and leave the pool.
func (s *Server) Poll(ctx context.Context) (available, declined []*peer) {
	results := make([]pollResult, len(s.peers))
	var wg sync.WaitGroup
	for i, p := range s.peers {
		wg.Add(1)
		go func(i int, p *peer) {
			defer wg.Done()
			results[i] = s.pollOne(ctx, p)
		}(i, p)
	}
	wg.Wait()

	kept := s.peers[:0]
	for i, p := range s.peers {
		res := results[i]
		switch {
		case res.err != nil:
			s.log.Warn("worker failed availability check, dropping it", "worker", p.addr, "kind", protocol.Kind(res.err), "error", res.err)
			p.close()
			continue
		case res.available:
			available = append(available, p)
		default:
			declined = append(declined, p)
		}
		kept = append(kept, p)
	}
	s.peers = kept
	return available, declined
}

func (s *Server) pollOne(ctx context.Context, p *peer) pollResult {
	stop := s.bound(ctx, p, s.opts.PollTimeout)
	defer stop()

	if err := protocol.WritePoll(p.conn); err != nil {
		return pollResult{err: err}
	}
	ok, err := protocol.ReadReply(p.r)
	return pollResult{available: ok, err: err}
}

// bound sets a deadline on p for the duration of one step and arranges for ctx
// cancellation to unblock it. The returned func clears both.
func (s *Server) bound(ctx context.Context, p *peer, timeout time.Duration) func() {
	if timeout > 0 {
		_ = p.conn.SetDeadline(time.Now().Add(timeout))
	}
	stop := context.AfterFunc(ctx, func() { _ = p.conn.SetDeadline(time.Now()) })
	return func() {
		stop()
		_ = p.conn.SetDeadline(time.Time{})
	}
}

// RunRound performs one full round over image. It returns
// protocol.ErrNoAvailableWorkers without dispatching when nobody volunteers.
func (s *Server) RunRound(ctx context.Context, image []byte) (*RoundResult, error) {
	s.round++
	res := &RoundResult{
		ID:      uuid.NewString(),
		ImageID: utils.ImageID(image),
		Started: time.Now(),
	}
	log := s.log.With("round", res.ID, "round_seq", s.round)

	// 1. Availability
	available, declined := s.Poll(ctx)
	for _, p := range declined {
		res.Declined = append(res.Declined, p.addr)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(available) == 0 {
		log.Warn("no worker volunteered", "declined", len(declined))
		return nil, protocol.ErrNoAvailableWorkers
	}
	log.Info("availability collected", "available", len(available), "declined", len(declined))

	// 2. Partition
	assignments := Partition(s.opts.Classes, len(available), s.opts.Shuffle)
	if s.opts.OnRoundStart != nil {
		s.opts.OnRoundStart(res.ID, len(available))
	}

	// 3. Dispatch + collect, one goroutine per session, each writing its own slot
	outcomes := make([]sessionOutcome, len(available))
	var wg sync.WaitGroup
	for i, p := range available {
		wg.Add(1)
		go func(i int, p *peer) {
			defer wg.Done()
			outcomes[i] = s.runSession(ctx, log, p, assignments[i], image)
			if s.opts.OnSessionDone != nil {
				s.opts.OnSessionDone(p.addr, outcomes[i].err)
			}
		}(i, p)
	}
	wg.Wait()

	// 4. Aggregate
	if err := res.merge(outcomes); err != nil {
		return nil, err
	}
	s.dropFailed(outcomes)
	res.Finished = time.Now()

	for _, w := range res.Warnings {
		log.Warn("worker reported a class problem", "worker", w.Worker, "class", w.Class, "reason", w.Reason)
	}
	log.Info("round aggregated",
		"classes", len(res.Detections),
		"detections", res.Detections.Count(),
		"failed_sessions", len(res.Failures),
		"took", res.Finished.Sub(res.Started))
	return res, nil
}

// runSession sends the assignment then the image, and waits for the result frame.
func (s *Server) runSession(ctx context.Context, log *slog.Logger, p *peer, assignment types.Assignment, image []byte) sessionOutcome {
	out := sessionOutcome{peer: p, worker: p.addr, assignment: assignment}
	log = log.With("worker", p.addr)

	stop := s.bound(ctx, p, s.opts.SessionTimeout)
	defer stop()

	payload, err := protocol.EncodeAssignment(assignment)
	if err != nil {
		out.err = err
		return out
	}
	if err := frame.Send(p.conn, payload); err != nil {
		out.err = err
		log.Error("failed to send assignment", "error", err)
		return out
	}
	if err := frame.Send(p.conn, image); err != nil {
		out.err = err
		log.Error("failed to send image", "error", err)
		return out
	}
	log.Debug("dispatched", "classes", assignment, "image_bytes", len(image))

	body, err := frame.Recv(p.r, s.opts.MaxFrameBytes)
	if err != nil {
		out.err = err
		log.Error("failed to collect detections", "kind", protocol.Kind(err), "error", err)
		return out
	}
	classes, err := protocol.DecodeResult(body)
	if err != nil {
		out.err = err
		log.Error("undecodable detections", "error", err)
		return out
	}
	out.classes = classes
	log.Info("collected detections", "classes", assignment)
	return out
}

// dropFailed closes every connection whose session failed; its stream position
// is unknown so it cannot take part in later rounds.
func (s *Server) dropFailed(outcomes []sessionOutcome) {
	failed := make(map[*peer]bool)
	for _, o := range outcomes {
		if o.err != nil {
			failed[o.peer] = true
		}
	}
	if len(failed) == 0 {
		return
	}
	kept := s.peers[:0]
	for _, p := range s.peers {
		if failed[p] {
			p.close()
			continue
		}
		kept = append(kept, p)
	}
	s.peers = kept
}

// Close disconnects every worker and stops listening.
func (s *Server) Close() error {
	for _, p := range s.peers {
		p.close()
	}
	s.peers = nil
	err := s.ln.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
