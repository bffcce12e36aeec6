package flowgraph

import (
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"

	"go.fsdr.dev/flowgraph/internal/logging"
)

// Scheduler selects the concurrency substrate a Flowgraph runs its block
// executors on. The choice is always explicit, never probed from the
// platform — spec.md §9 flags exactly this kind of environment-probing
// ("DefaultBuffer silently picks different implementations per
// platform") as something to avoid.
type Scheduler int

const (
	// SchedulerThreaded gives each block its own goroutine; readiness
	// waits block that goroutine until the next event. The default, and
	// the right choice whenever the host has Go's usual preemptive
	// scheduler and more blocks than available cores would be wasteful
	// to round-robin by hand.
	SchedulerThreaded Scheduler = iota
	// SchedulerCooperative drives every block's Executor from a single
	// goroutine, polling each one in turn. For embedding a flowgraph
	// inside another event loop (a GUI, a single-threaded host runtime)
	// that cannot tolerate a goroutine-per-block footprint.
	SchedulerCooperative
)

func (s Scheduler) String() string {
	switch s {
	case SchedulerThreaded:
		return "threaded"
	case SchedulerCooperative:
		return "cooperative"
	default:
		return "unknown"
	}
}

func (s Scheduler) MarshalYAML() (any, error) {
	return s.String(), nil
}

func (s *Scheduler) UnmarshalYAML(unmarshal func(any) error) error {
	var v string
	if err := unmarshal(&v); err != nil {
		return err
	}
	switch v {
	case "", "threaded":
		*s = SchedulerThreaded
	case "cooperative":
		*s = SchedulerCooperative
	default:
		return fmt.Errorf("unknown scheduler %q (want \"threaded\" or \"cooperative\")", v)
	}
	return nil
}

// Config controls a Flowgraph's ambient behavior: scheduling substrate,
// default stream buffer sizing, and logging. Grounded on the teacher's
// coordinator.Config (yaml.v3-backed, defaulted before unmarshal).
type Config struct {
	// Scheduler picks the concurrency substrate. Default: SchedulerThreaded.
	Scheduler Scheduler `yaml:"scheduler"`
	// DefaultStreamBufferCapacity sizes a stream edge's buffer when
	// ConnectStream is called with a nil buffer.Builder.
	DefaultStreamBufferCapacity datasize.ByteSize `yaml:"default_stream_buffer_capacity"`
	// Logging configures the structured logger threaded through the
	// supervisor and every block executor.
	Logging logging.Config `yaml:"logging"`
}

// DefaultConfig returns the runtime's baseline configuration: threaded
// scheduling, a 64KiB default stream buffer, info-level logging.
func DefaultConfig() Config {
	return Config{
		Scheduler:                   SchedulerThreaded,
		DefaultStreamBufferCapacity: 64 * datasize.KB,
		Logging:                     logging.DefaultConfig(),
	}
}

// LoadConfig reads a YAML flowgraph configuration from path, applying
// DefaultConfig's values to anything the file leaves unset.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading flowgraph config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing flowgraph config: %w", err)
	}
	return cfg, nil
}
