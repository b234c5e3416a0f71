package evalcache

import (
	"sync"
	"time"

	"github.com/banksean/devenv/evalinput"
)

// Collector accumulates the files and env vars an in-flight evaluation
// touches, so an evaluator can call TrackFile/TrackEnv as it goes rather
// than precomputing its full input set up front (spec.md §4.B: "the
// evaluator records every file and env var it reads along the way").
//
// Safe for concurrent use: a single evaluation may read files from several
// goroutines (e.g. one per imported module).
type Collector struct {
	mu       sync.Mutex
	fallback time.Time
	files    []evalinput.FileDesc
	envs     []evalinput.EnvDesc
}

// NewCollector starts a collector. fallback is the modification time
// recorded for paths that don't exist at the moment they're tracked.
func NewCollector(fallback time.Time) *Collector {
	return &Collector{fallback: fallback}
}

// TrackFile records path as an input, ignoring stat/read errors other than
// "not found" (a transient read error shouldn't abort an otherwise
// successful evaluation; the file simply won't gate the cache).
func (c *Collector) TrackFile(path string) {
	desc, err := evalinput.NewFileDesc(path, c.fallback)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.files = append(c.files, desc)
	c.mu.Unlock()
}

// TrackEnv records the current value of an environment variable as an input.
func (c *Collector) TrackEnv(name string) {
	desc := evalinput.NewEnvDesc(name)
	c.mu.Lock()
	c.envs = append(c.envs, desc)
	c.mu.Unlock()
}

// Inputs snapshots everything tracked so far.
func (c *Collector) Inputs() Inputs {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Inputs{
		Files: append([]evalinput.FileDesc(nil), c.files...),
		Envs:  append([]evalinput.EnvDesc(nil), c.envs...),
	}
}
