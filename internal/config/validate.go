package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/andresmejia3/fogwatch/internal/types"
)

// Validate checks the configuration for values the coordinator or workers
// cannot run with.
func (c *Config) Validate() error {
	var problems []error

	if c.Server.Quorum < 1 {
		problems = append(problems, fmt.Errorf("server.quorum must be >= 1, got %d", c.Server.Quorum))
	}
	if c.Server.PollTimeout < 0 || c.Server.SessionTimeout < 0 || c.Server.AcceptTimeout < 0 {
		problems = append(problems, errors.New("server timeouts must not be negative"))
	}
	if c.Worker.Count < 1 {
		problems = append(problems, fmt.Errorf("worker.count must be >= 1, got %d", c.Worker.Count))
	}
	if c.Worker.MinConfidence < 0 || c.Worker.MinConfidence > 1 {
		problems = append(problems, fmt.Errorf("worker.min_confidence must be within [0,1], got %v", c.Worker.MinConfidence))
	}

	seen := make(map[int]bool, len(c.Classes))
	for _, cl := range c.Classes {
		if cl.ID < 0 {
			problems = append(problems, fmt.Errorf("class id %d is negative", cl.ID))
		}
		if seen[cl.ID] {
			problems = append(problems, fmt.Errorf("class id %d is defined twice", cl.ID))
		}
		seen[cl.ID] = true
		if _, err := parseColor(cl.Color); err != nil {
			problems = append(problems, fmt.Errorf("class %d: %w", cl.ID, err))
		}
	}

	return errors.Join(problems...)
}

// Catalog converts the configured classes into the shared catalog type.
func (c *Config) Catalog() types.Catalog {
	out := make(types.Catalog, 0, len(c.Classes))
	for _, cl := range c.Classes {
		rgb, _ := parseColor(cl.Color)
		out = append(out, types.Class{ID: types.ClassID(cl.ID), Name: cl.Name, Color: rgb})
	}
	return out
}

func parseColor(s string) ([3]uint8, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) != 6 {
		return [3]uint8{}, fmt.Errorf("color %q is not #rrggbb", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return [3]uint8{}, fmt.Errorf("color %q is not #rrggbb", s)
	}
	return [3]uint8{uint8(v >> 16), uint8(v >> 8), uint8(v)}, nil
}

func formatColor(rgb [3]uint8) string {
	return fmt.Sprintf("#%02x%02x%02x", rgb[0], rgb[1], rgb[2])
}
