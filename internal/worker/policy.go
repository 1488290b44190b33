package worker

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v3/load"
)

// Policy decides, per availability check, whether this worker takes part in the
// round.
type Policy interface {
	ShouldAcceptWork() bool
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func() bool

func (f PolicyFunc) ShouldAcceptWork() bool { return f() }

// Always accepts every round.
func Always() Policy { return PolicyFunc(func() bool { return true }) }

// Never declines every round.
func Never() Policy { return PolicyFunc(func() bool { return false }) }

// LoadPolicy accepts work while the 1-minute load average stays at or below MaxLoad.
type LoadPolicy struct {
	MaxLoad float64
	Avg     func() (*load.AvgStat, error)
	Logger  *slog.Logger
}

func (p *LoadPolicy) ShouldAcceptWork() bool {
	avg := p.Avg
	if avg == nil {
		avg = load.Avg
	}
	st, err := avg()
	if err != nil {
		// Unknown load counts as idle.
		if p.Logger != nil {
			p.Logger.Warn("could not read load average, accepting work", "error", err)
		}
		return true
	}
	return st.Load1 <= p.MaxLoad
}

// PromptPolicy asks an operator on the terminal before every round.
// It is safe to share between several clients of one process.
type PromptPolicy struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

// NewPromptPolicy reads answers from in and writes prompts to out.
func NewPromptPolicy(in io.Reader, out io.Writer) *PromptPolicy {
	return &PromptPolicy{in: bufio.NewReader(in), out: out}
}

func (p *PromptPolicy) ShouldAcceptWork() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprint(p.out, "Are you available? (yes/no): ")
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// ParsePolicy maps a config value to a Policy.
func ParsePolicy(name string, maxLoad float64, in io.Reader, out io.Writer, logger *slog.Logger) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "always":
		return Always(), nil
	case "never":
		return Never(), nil
	case "load":
		if maxLoad <= 0 {
			return nil, fmt.Errorf("load policy needs a positive max load, got %v", maxLoad)
		}
		return &LoadPolicy{MaxLoad: maxLoad, Logger: logger}, nil
	case "prompt":
		return NewPromptPolicy(in, out), nil
	default:
		return nil, fmt.Errorf("unknown availability policy %q (use always, never, load, prompt)", name)
	}
}
