package pqhybrid

import (
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/process"
)

// A MemoryProbe reads a monotonic or point-in-time memory figure in bytes.
// The harness reads it before and after each measured call, outside the
// timed window, and records the difference.
type MemoryProbe interface {
	Read() (uint64, error)
	Name() string
}

// HeapProbe reports the cumulative bytes allocated on the Go heap, so its
// deltas are the bytes an operation allocated.
type HeapProbe struct{}

func (HeapProbe) Read() (uint64, error) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.TotalAlloc, nil
}

func (HeapProbe) Name() string { return "heap" }

// RSSProbe reports the resident set size of the current process.
type RSSProbe struct {
	proc *process.Process
}

// NewRSSProbe creates a probe for the current process.
func NewRSSProbe() (*RSSProbe, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("pqhybrid: open process for rss probe: %w", err)
	}
	return &RSSProbe{proc: p}, nil
}

func (p *RSSProbe) Read() (uint64, error) {
	mi, err := p.proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return mi.RSS, nil
}

func (p *RSSProbe) Name() string { return "rss" }

// ParseMemoryProbe returns the probe named s: "heap", "rss" or "none".
func ParseMemoryProbe(s string) (MemoryProbe, error) {
	switch s {
	case "", "heap":
		return HeapProbe{}, nil
	case "rss":
		p, err := NewRSSProbe()
		if err != nil {
			return nil, err
		}
		return p, nil
	case "none":
		return nil, nil
	}
	return nil, fmt.Errorf("pqhybrid: unknown memory probe %q", s)
}
