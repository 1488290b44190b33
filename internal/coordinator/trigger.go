package coordinator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Trigger decides whether another round should start. round is the number of
// rounds already run.
type Trigger interface {
	ShouldStartRound(round int) bool
}

// TriggerFunc adapts a function to Trigger.
type TriggerFunc func(round int) bool

func (f TriggerFunc) ShouldStartRound(round int) bool { return f(round) }

// Rounds starts exactly n rounds.
func Rounds(n int) Trigger {
	return TriggerFunc(func(round int) bool { return round < n })
}

// Prompt asks the operator before every round ("Run detection? (yes/no)").
func Prompt(in io.Reader, out io.Writer) Trigger {
	r := bufio.NewReader(in)
	return TriggerFunc(func(int) bool {
		fmt.Fprint(out, "Run detection? (yes/no): ")
		line, err := r.ReadString('\n')
		if err != nil && line == "" {
			return false
		}
		ans := strings.ToLower(strings.TrimSpace(line))
		return ans == "yes" || ans == "y"
	})
}

// ParseTrigger maps "once", "prompt" or a positive integer to a Trigger.
func ParseTrigger(rounds string, in io.Reader, out io.Writer) (Trigger, error) {
	switch s := strings.ToLower(strings.TrimSpace(rounds)); s {
	case "", "once":
		return Rounds(1), nil
	case "prompt":
		return Prompt(in, out), nil
	default:
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid rounds %q (use once, prompt or a positive count)", rounds)
		}
		return Rounds(n), nil
	}
}

// Serve runs rounds over image while trigger allows, handing each result to
// handle. It stops with protocol.ErrNoAvailableWorkers when a round finds no
// volunteers, or with the first error returned by handle.
func (s *Server) Serve(ctx context.Context, image []byte, trigger Trigger, handle func(*RoundResult) error) error {
	for n := 0; trigger.ShouldStartRound(n); n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := s.RunRound(ctx, image)
		if err != nil {
			return err
		}
		if handle != nil {
			if err := handle(res); err != nil {
				return err
			}
		}
	}
	return nil
}
