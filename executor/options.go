package executor

import (
	"log/slog"
	"time"

	"github.com/caffeineduck/luabox/marshal"
	lua "github.com/yuin/gopher-lua"
)

// DefaultTimeout bounds a single Run unless WithTimeout says otherwise.
const DefaultTimeout = 30 * time.Second

// Option configures an Engine at creation time.
type Option func(*engineConfig)

type engineConfig struct {
	timeout       time.Duration
	maxDepth      int
	maxValues     int
	callStackSize int
	registrySize  int
	logger        *slog.Logger
}

func defaultEngineConfig() engineConfig {
	return engineConfig{
		timeout:       DefaultTimeout,
		maxDepth:      marshal.DefaultMaxDepth,
		maxValues:     marshal.DefaultMaxNodes,
		callStackSize: lua.CallStackSize,
		registrySize:  lua.RegistrySize,
		logger:        slog.Default(),
	}
}

// WithTimeout sets the maximum execution time of each Run. Zero disables
// the limit and a looping script then blocks its engine until the caller's
// context is canceled.
func WithTimeout(d time.Duration) Option {
	return func(c *engineConfig) {
		c.timeout = d
	}
}

// WithMaxDepth limits how deeply nested tables may be when results and
// print arguments are converted.
func WithMaxDepth(depth int) Option {
	return func(c *engineConfig) {
		if depth > 0 {
			c.maxDepth = depth
		}
	}
}

// WithMaxValues caps how many values one result list or print call may
// expand to. A table referenced twice counts twice.
func WithMaxValues(n int) Option {
	return func(c *engineConfig) {
		if n > 0 {
			c.maxValues = n
		}
	}
}

// WithCallStackSize sets the Lua call stack size, which bounds script
// recursion.
func WithCallStackSize(size int) Option {
	return func(c *engineConfig) {
		if size > 0 {
			c.callStackSize = size
		}
	}
}

// WithRegistrySize sets the initial size of the Lua value stack.
func WithRegistrySize(size int) Option {
	return func(c *engineConfig) {
		if size > 0 {
			c.registrySize = size
		}
	}
}

// WithLogger sets the logger used by the engine and its sandbox.
func WithLogger(logger *slog.Logger) Option {
	return func(c *engineConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// PrintFunc receives the converted arguments of one print call.
type PrintFunc func(args []any)

// RunOption configures a single Run.
type RunOption func(*runConfig)

type runConfig struct {
	print   PrintFunc
	timeout time.Duration
}

// WithPrint forwards every print call of this run to fn, in order.
func WithPrint(fn PrintFunc) RunOption {
	return func(c *runConfig) {
		c.print = fn
	}
}

// WithRunTimeout overrides the engine timeout for one run.
func WithRunTimeout(d time.Duration) RunOption {
	return func(c *runConfig) {
		c.timeout = d
	}
}
