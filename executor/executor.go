package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/caffeineduck/luabox/marshal"
	"github.com/caffeineduck/luabox/sandbox"
	lua "github.com/yuin/gopher-lua"
)

var ErrEngineClosed = errors.New("engine closed")

// ExecError is a Lua runtime error raised by a script.
type ExecError struct {
	Message   string
	Traceback string
}

func (e *ExecError) Error() string {
	return e.Message
}

func newExecError(err error) *ExecError {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		return &ExecError{Message: apiErr.Object.String(), Traceback: apiErr.StackTrace}
	}
	return &ExecError{Message: err.Error()}
}

// Result holds the values and print output of one Run.
//
// A script that fails to compile is not an error: Values is then
// [nil, message], the way Lua's load reports it.
type Result struct {
	Values   []any
	Prints   [][]any
	Duration time.Duration
	Error    error
}

// Engine owns one sandboxed Lua state. Runs are serialized; globals set by
// one run are visible to the next.
type Engine struct {
	cfg     engineConfig
	sandbox sandbox.Config

	mu sync.Mutex
	L  *lua.LState
}

// New creates an engine whose state is restricted by cfg. The capabilities
// cannot change afterwards.
func New(cfg sandbox.Config, opts ...Option) (*Engine, error) {
	ec := defaultEngineConfig()
	for _, opt := range opts {
		opt(&ec)
	}

	policy, err := sandbox.New(cfg, sandbox.WithLogger(ec.logger))
	if err != nil {
		return nil, fmt.Errorf("create sandbox: %w", err)
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs:  true,
		CallStackSize: ec.callStackSize,
		RegistrySize:  ec.registrySize,
	})

	e := &Engine{
		cfg:     ec,
		sandbox: policy.Config(),
		L:       L,
	}
	if err := policy.Apply(L, e.print); err != nil {
		L.Close()
		return nil, fmt.Errorf("apply sandbox: %w", err)
	}
	return e, nil
}

// Sandbox returns the capabilities the engine was created with.
func (e *Engine) Sandbox() sandbox.Config {
	return e.sandbox
}

// Run compiles and executes code with args bound to the chunk's varargs.
func (e *Engine) Run(ctx context.Context, code string, args []any, opts ...RunOption) Result {
	start := time.Now()

	rc := runConfig{timeout: e.cfg.timeout}
	for _, opt := range opts {
		opt(&rc)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.L == nil {
		return Result{Error: ErrEngineClosed, Duration: time.Since(start)}
	}
	L := e.L
	defer L.SetTop(0)

	fn, err := L.LoadString(code)
	if err != nil {
		return Result{Values: []any{nil, compileMessage(err)}, Duration: time.Since(start)}
	}

	values, err := marshal.ToLuaAll(args)
	if err != nil {
		e.cfg.logger.Error("rejected script arguments", "error", err)
		return Result{Error: fmt.Errorf("convert arguments: %w", err), Duration: time.Since(start)}
	}

	parent := ctx
	if rc.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rc.timeout)
		defer cancel()
	}

	out := &output{fn: rc.print}
	L.SetContext(withOutput(ctx, out))
	defer L.RemoveContext()

	L.Push(fn)
	for _, v := range values {
		L.Push(v)
	}
	err = L.PCall(len(values), lua.MultRet, nil)

	result := Result{Prints: out.prints}
	if err != nil {
		switch {
		case parent.Err() != nil:
			result.Error = fmt.Errorf("execution interrupted: %w", parent.Err())
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			result.Error = fmt.Errorf("timeout after %v", rc.timeout)
		default:
			result.Error = newExecError(err)
		}
		result.Duration = time.Since(start)
		return result
	}

	n := L.GetTop()
	returned := make([]lua.LValue, 0, n)
	for i := 1; i <= n; i++ {
		returned = append(returned, L.Get(i))
	}
	result.Values, err = marshal.FromLuaAll(returned, e.convertOptions(ctx)...)
	if err != nil {
		if parent.Err() != nil {
			err = fmt.Errorf("execution interrupted: %w", parent.Err())
		}
		result.Error = fmt.Errorf("convert results: %w", err)
	}
	result.Duration = time.Since(start)
	return result
}

// convertOptions bounds result conversion by the run's context as well as
// the engine's depth and value limits.
func (e *Engine) convertOptions(ctx context.Context) []marshal.Option {
	opts := []marshal.Option{
		marshal.WithMaxDepth(e.cfg.maxDepth),
		marshal.WithMaxNodes(e.cfg.maxValues),
	}
	if ctx != nil {
		opts = append(opts, marshal.WithContext(ctx))
	}
	return opts
}

func compileMessage(err error) string {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		return apiErr.Object.String()
	}
	return err.Error()
}

// Globals returns the names in the global table, sorted. Unless
// includeStd is set, StandardGlobals are left out.
func (e *Engine) Globals(includeStd bool) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.L == nil {
		return nil, ErrEngineClosed
	}

	names := []string{}
	e.L.G.Global.ForEach(func(key, _ lua.LValue) {
		name := key.String()
		if !includeStd && IsStandardGlobal(name) {
			return
		}
		names = append(names, name)
	})
	sort.Strings(names)
	return names, nil
}

// Close waits for an in-flight run and releases the Lua state.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.L == nil {
		return nil
	}
	e.L.Close()
	e.L = nil
	return nil
}

// print is installed as the global print. It reads the run's output sink
// from the state's context, so concurrent engines never share one.
func (e *Engine) print(L *lua.LState) int {
	n := L.GetTop()
	values := make([]lua.LValue, 0, n)
	for i := 1; i <= n; i++ {
		values = append(values, L.Get(i))
	}
	args, err := marshal.FromLuaAll(values, e.convertOptions(L.Context())...)
	if err != nil {
		L.RaiseError("print: %v", err)
		return 0
	}
	if out := outputFrom(L.Context()); out != nil {
		out.write(args)
	}
	return 0
}
