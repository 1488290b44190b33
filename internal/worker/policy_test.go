package worker

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/shirou/gopsutil/v3/load"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPolicy(t *testing.T) {
	tests := []struct {
		name  string
		load1 float64
		err   error
		want  bool
	}{
		{"idle", 0.5, nil, true},
		{"at limit", 2, nil, true},
		{"busy", 3.5, nil, false},
		{"unreadable", 0, errors.New("no /proc"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &LoadPolicy{
				MaxLoad: 2,
				Avg: func() (*load.AvgStat, error) {
					if tt.err != nil {
						return nil, tt.err
					}
					return &load.AvgStat{Load1: tt.load1}, nil
				},
			}
			assert.Equal(t, tt.want, p.ShouldAcceptWork())
		})
	}
}

func TestPromptPolicy(t *testing.T) {
	var out bytes.Buffer
	p := NewPromptPolicy(strings.NewReader("yes\nNo\nY\nwhatever\n"), &out)

	assert.True(t, p.ShouldAcceptWork())
	assert.False(t, p.ShouldAcceptWork())
	assert.True(t, p.ShouldAcceptWork())
	assert.False(t, p.ShouldAcceptWork())
	// Input exhausted.
	assert.False(t, p.ShouldAcceptWork())

	assert.Equal(t, 5, strings.Count(out.String(), "Are you available? (yes/no): "))
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		name    string
		maxLoad float64
		wantErr bool
	}{
		{"always", 0, false},
		{"", 0, false},
		{"NEVER", 0, false},
		{"load", 4, false},
		{"load", 0, true},
		{"prompt", 0, false},
		{"sometimes", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePolicy(tt.name, tt.maxLoad, strings.NewReader(""), &bytes.Buffer{}, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, p)
		})
	}

	never, err := ParsePolicy("never", 0, nil, nil, nil)
	require.NoError(t, err)
	assert.False(t, never.ShouldAcceptWork())
}
