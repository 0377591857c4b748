package executor_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/caffeineduck/luabox/executor"
	"github.com/caffeineduck/luabox/marshal"
	"github.com/caffeineduck/luabox/sandbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var (
	quiet        = slog.New(slog.NewTextHandler(io.Discard, nil))
	sharedEngine *executor.Engine
)

func TestMain(m *testing.M) {
	var err error
	sharedEngine, err = executor.New(sandbox.DefaultConfig(), executor.WithLogger(quiet))
	if err != nil {
		panic("failed to create shared engine: " + err.Error())
	}

	code := m.Run()

	sharedEngine.Close()
	os.Exit(code)
}

func newEngine(t *testing.T, cfg sandbox.Config, opts ...executor.Option) *executor.Engine {
	t.Helper()
	e, err := executor.New(cfg, append([]executor.Option{executor.WithLogger(quiet)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func run(t *testing.T, e *executor.Engine, code string, args ...any) []any {
	t.Helper()
	result := e.Run(context.Background(), code, args)
	require.NoError(t, result.Error)
	return result.Values
}

func TestRunMultipleReturns(t *testing.T) {
	assert.Equal(t, []any{1.0, 2.0, 3.0}, run(t, sharedEngine, `return 1, 2, 3`))
}

func TestRunArrayTable(t *testing.T) {
	assert.Equal(t, []any{[]any{10.0, 20.0, 30.0}}, run(t, sharedEngine, `return {10, 20, 30}`))
}

func TestRunMapTable(t *testing.T) {
	assert.Equal(t, []any{map[string]any{"a": 1.0, "b": 2.0}}, run(t, sharedEngine, `return {a = 1, b = 2}`))
}

func TestRunNoReturn(t *testing.T) {
	assert.Equal(t, []any{}, run(t, sharedEngine, `local x = 1`))
}

func TestRunUnsupportedValues(t *testing.T) {
	got := run(t, sharedEngine, `return print, coroutine.create(function() end), nil, "x"`)
	assert.Equal(t, []any{nil, nil, nil, "x"}, got)
}

func TestRunCompileError(t *testing.T) {
	result := sharedEngine.Run(context.Background(), `return 1+`, nil)
	require.NoError(t, result.Error)
	require.Len(t, result.Values, 2)
	assert.Nil(t, result.Values[0])
	msg, ok := result.Values[1].(string)
	require.True(t, ok)
	assert.Contains(t, msg, "syntax error")

	assert.Equal(t, []any{2.0}, run(t, sharedEngine, `return 1 + 1`))
}

func TestRunRuntimeError(t *testing.T) {
	e := newEngine(t, sandbox.DefaultConfig())

	result := e.Run(context.Background(), `x = 5 error("boom")`, nil)
	require.Error(t, result.Error)

	var execErr *executor.ExecError
	require.ErrorAs(t, result.Error, &execErr)
	assert.Contains(t, execErr.Message, "boom")
	assert.Nil(t, result.Values)

	assert.Equal(t, []any{5.0}, run(t, e, `return x`))
}

func TestRunNonStringError(t *testing.T) {
	result := sharedEngine.Run(context.Background(), `error({code = 1})`, nil)
	var execErr *executor.ExecError
	require.ErrorAs(t, result.Error, &execErr)
	assert.Contains(t, execErr.Message, "table")
}

func TestRunProcessExecutionDenied(t *testing.T) {
	got := run(t, sharedEngine, `return os.execute('ls')`)
	assert.Equal(t, []any{nil, "os.execute() is not allowed"}, got)

	assert.Empty(t, run(t, sharedEngine, `os.execute('ls')`))
}

func TestRunAssertSurfacesDeniedExecution(t *testing.T) {
	result := sharedEngine.Run(context.Background(), `assert(os.execute('ls'))`, nil)
	assert.Nil(t, result.Values)

	var execErr *executor.ExecError
	require.ErrorAs(t, result.Error, &execErr)
	assert.Contains(t, execErr.Message, "os.execute() is not allowed")
}

func TestRunOSExit(t *testing.T) {
	result := sharedEngine.Run(context.Background(), `os.exit(0)`, nil)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "os.exit() is called")

	assert.Equal(t, []any{"alive"}, run(t, sharedEngine, `return "alive"`))
}

func TestRunArguments(t *testing.T) {
	got := run(t, sharedEngine, `local a, b, c, d = ... return a + b, c, d, select("#", ...)`,
		int64(40), float32(2), "s", true)
	assert.Equal(t, []any{42.0, "s", true, 4.0}, got)

	got = run(t, sharedEngine, `return select("#", ...), (...)`, nil, "x")
	assert.Equal(t, []any{2.0, nil}, got)
}

func TestRunRejectsStructuredArguments(t *testing.T) {
	for _, arg := range []any{[]any{1}, map[string]any{"a": 1}, struct{}{}} {
		result := sharedEngine.Run(context.Background(), `return ...`, []any{"ok", arg})
		assert.ErrorIs(t, result.Error, marshal.ErrUnsupportedArgument)
		assert.Contains(t, result.Error.Error(), "argument 2")
	}
}

func TestRunStatePersists(t *testing.T) {
	e := newEngine(t, sandbox.DefaultConfig())

	run(t, e, `counter = 41 function bump() counter = counter + 1 return counter end`)
	assert.Equal(t, []any{42.0}, run(t, e, `return bump()`))
	assert.Equal(t, []any{43.0}, run(t, e, `return bump()`))
}

func TestRunStackIsClearedBetweenCalls(t *testing.T) {
	e := newEngine(t, sandbox.DefaultConfig())

	run(t, e, `return 1, 2, 3`)
	e.Run(context.Background(), `error("x")`, nil)
	e.Run(context.Background(), `return 1+`, nil)
	assert.Equal(t, []any{0.0}, run(t, e, `return select("#", ...)`))
}

func TestRunDepthExceeded(t *testing.T) {
	e := newEngine(t, sandbox.DefaultConfig(), executor.WithMaxDepth(10))

	result := e.Run(context.Background(), `local t = {} t.self = t return t`, nil)
	assert.ErrorIs(t, result.Error, marshal.ErrDepthExceeded)
	assert.Nil(t, result.Values)

	result = e.Run(context.Background(), `
		local t = {}
		for i = 1, 5 do t = {t} end
		return t
	`, nil)
	require.NoError(t, result.Error)

	result = e.Run(context.Background(), `local t = {} t[1] = t print(t)`, nil)
	var execErr *executor.ExecError
	require.ErrorAs(t, result.Error, &execErr)
	assert.Contains(t, execErr.Message, "print:")
}

const sharedTableGraph = `
	local t = {}
	for i = 1, 60 do t = {t, t} end
`

func TestRunSharedTablesExceedValueLimit(t *testing.T) {
	e := newEngine(t, sandbox.DefaultConfig())

	start := time.Now()
	result := e.Run(context.Background(), sharedTableGraph+`return t`, nil)
	assert.ErrorIs(t, result.Error, marshal.ErrTooManyValues)
	assert.Nil(t, result.Values)
	assert.Less(t, time.Since(start), 10*time.Second)

	result = e.Run(context.Background(), sharedTableGraph+`print(t)`, nil)
	var execErr *executor.ExecError
	require.ErrorAs(t, result.Error, &execErr)
	assert.Contains(t, execErr.Message, "too many values")

	assert.Equal(t, []any{"alive"}, run(t, e, `return "alive"`))
}

func TestRunMaxValues(t *testing.T) {
	e := newEngine(t, sandbox.DefaultConfig(), executor.WithMaxValues(10))

	assert.Equal(t, []any{[]any{1.0, 2.0, 3.0}}, run(t, e, `return {1, 2, 3}`))

	result := e.Run(context.Background(), `return {1, 2, 3, 4, 5, 6, 7, 8, 9, 10}`, nil)
	assert.ErrorIs(t, result.Error, marshal.ErrTooManyValues)
}

func TestRunResultConversionHonorsTimeout(t *testing.T) {
	e := newEngine(t, sandbox.DefaultConfig(),
		executor.WithTimeout(50*time.Millisecond),
		executor.WithMaxValues(1<<40))

	start := time.Now()
	result := e.Run(context.Background(), sharedTableGraph+`return t`, nil)
	require.Error(t, result.Error)
	assert.ErrorIs(t, result.Error, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRunPrint(t *testing.T) {
	var streamed [][]any
	result := sharedEngine.Run(context.Background(), `
		print("a", 1, true, nil)
		print({1, 2}, {k = "v"})
		print()
		return "done"
	`, nil, executor.WithPrint(func(args []any) {
		streamed = append(streamed, args)
	}))
	require.NoError(t, result.Error)

	want := [][]any{
		{"a", 1.0, true, nil},
		{[]any{1.0, 2.0}, map[string]any{"k": "v"}},
		{},
	}
	assert.Equal(t, want, result.Prints)
	assert.Equal(t, want, streamed)
	assert.Equal(t, []any{"done"}, result.Values)
}

func TestRunPrintBeforeError(t *testing.T) {
	result := sharedEngine.Run(context.Background(), `print("before") error("after")`, nil)
	require.Error(t, result.Error)
	assert.Equal(t, [][]any{{"before"}}, result.Prints)
}

func TestRunTimeout(t *testing.T) {
	e := newEngine(t, sandbox.DefaultConfig(), executor.WithTimeout(50*time.Millisecond))

	start := time.Now()
	result := e.Run(context.Background(), `while true do end`, nil)
	require.Error(t, result.Error)
	assert.Equal(t, "timeout after 50ms", result.Error.Error())
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.Equal(t, []any{1.0}, run(t, e, `return 1`))

	result = e.Run(context.Background(), `while true do end`, nil, executor.WithRunTimeout(10*time.Millisecond))
	assert.EqualError(t, result.Error, "timeout after 10ms")
}

func TestRunContextCanceled(t *testing.T) {
	e := newEngine(t, sandbox.DefaultConfig(), executor.WithTimeout(0))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	result := e.Run(ctx, `while true do end`, nil)
	assert.ErrorIs(t, result.Error, context.Canceled)

	assert.Equal(t, []any{"ok"}, run(t, e, `return "ok"`))
}

func TestRunCallerDeadline(t *testing.T) {
	e := newEngine(t, sandbox.DefaultConfig(), executor.WithTimeout(time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result := e.Run(ctx, `while true do end`, nil)
	assert.ErrorIs(t, result.Error, context.DeadlineExceeded)
	assert.Contains(t, result.Error.Error(), "execution interrupted")
}

func TestGlobals(t *testing.T) {
	e := newEngine(t, sandbox.DefaultConfig())

	run(t, e, `x = 1 helper = function() end _G[7] = true`)

	names, err := e.Globals(false)
	require.NoError(t, err)
	assert.Equal(t, []string{"7", "helper", "x"}, names)

	all, err := e.Globals(true)
	require.NoError(t, err)
	assert.Contains(t, all, "x")
	for _, name := range []string{"print", "table", "os", "string", "package", "_G", "utf8"} {
		assert.Contains(t, all, name)
		assert.NotContains(t, names, name)
	}
	assert.IsIncreasing(t, all)
}

func TestGlobalsFreshEngine(t *testing.T) {
	e := newEngine(t, sandbox.Config{OpenDebugLib: true, AllowProcessExec: true, UnjailIO: true})

	names, err := e.Globals(false)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestEngineClose(t *testing.T) {
	e, err := executor.New(sandbox.DefaultConfig(), executor.WithLogger(quiet))
	require.NoError(t, err)

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	result := e.Run(context.Background(), `return 1`, nil)
	assert.ErrorIs(t, result.Error, executor.ErrEngineClosed)

	_, err = e.Globals(true)
	assert.ErrorIs(t, err, executor.ErrEngineClosed)
}

func TestEngineSandboxIsFixed(t *testing.T) {
	cfg := sandbox.DefaultConfig()
	cfg.AllowJailIO = true
	cfg.IODir = t.TempDir()
	e := newEngine(t, cfg)

	got := e.Sandbox()
	assert.True(t, got.AllowJailIO)
	assert.True(t, filepath.IsAbs(got.IODir))

	cfg.AllowProcessExec = true
	assert.False(t, e.Sandbox().AllowProcessExec)
}

func TestJailedIO(t *testing.T) {
	cfg := sandbox.DefaultConfig()
	cfg.AllowJailIO = true
	cfg.IODir = t.TempDir()
	e := newEngine(t, cfg)

	run(t, e, `local f = assert(io.open("data.txt", "w")) f:write("payload") f:close()`)
	assert.Equal(t, []any{"payload"}, run(t, e, `local f = assert(io.open("data.txt")) local s = f:read("*a") f:close() return s`))

	got := run(t, e, `return io.open("../outside.txt", "w")`)
	require.Len(t, got, 2)
	assert.Nil(t, got[0])
	assert.Contains(t, got[1], "not in io directory")
}

func TestConcurrentRunsSameEngine(t *testing.T) {
	e := newEngine(t, sandbox.DefaultConfig())
	run(t, e, `counter = 0`)

	var g errgroup.Group
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			result := e.Run(context.Background(), `
				local before = counter
				for i = 1, 1000 do end
				counter = before + 1
			`, nil)
			return result.Error
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, []any{50.0}, run(t, e, `return counter`))
}

func TestConcurrentRunsDifferentEngines(t *testing.T) {
	slow := newEngine(t, sandbox.DefaultConfig(), executor.WithTimeout(0))
	fast := newEngine(t, sandbox.DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slowDone := make(chan executor.Result, 1)
	go func() {
		slowDone <- slow.Run(ctx, `while true do end`, nil)
	}()

	fastDone := make(chan executor.Result, 1)
	go func() {
		// Let the slow run take its engine first.
		time.Sleep(20 * time.Millisecond)
		fastDone <- fast.Run(context.Background(), `return "fast"`, nil)
	}()

	select {
	case result := <-fastDone:
		require.NoError(t, result.Error)
		assert.Equal(t, []any{"fast"}, result.Values)
	case <-time.After(5 * time.Second):
		t.Fatal("run on a second engine blocked behind a looping engine")
	}

	cancel()
	result := <-slowDone
	assert.Error(t, result.Error)
}

func TestConcurrentPrintsStayWithTheirRun(t *testing.T) {
	engines := make([]*executor.Engine, 8)
	for i := range engines {
		engines[i] = newEngine(t, sandbox.DefaultConfig())
	}

	g, ctx := errgroup.WithContext(context.Background())
	for i, e := range engines {
		g.Go(func() error {
			label := fmt.Sprintf("engine-%d", i)
			var streamed int
			result := e.Run(ctx, `
				local label = ...
				for i = 1, 200 do print(label, i) end
			`, []any{label}, executor.WithPrint(func(args []any) {
				streamed++
			}))
			if result.Error != nil {
				return result.Error
			}
			if len(result.Prints) != 200 || streamed != 200 {
				return fmt.Errorf("%s: got %d prints, %d streamed", label, len(result.Prints), streamed)
			}
			for n, args := range result.Prints {
				if args[0] != label || args[1] != float64(n+1) {
					return fmt.Errorf("%s: print %d misattributed: %v", label, n, args)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestExecErrorMessage(t *testing.T) {
	err := &executor.ExecError{Message: "m", Traceback: "tb"}
	assert.Equal(t, "m", err.Error())
	assert.False(t, errors.Is(err, executor.ErrEngineClosed))
}

func TestCallStackSizeBoundsRecursion(t *testing.T) {
	e := newEngine(t, sandbox.DefaultConfig(), executor.WithCallStackSize(32))
	const code = `
		local function depth(n) if n == 0 then return 0 end return 1 + depth(n - 1) end
		return depth(...)`

	assert.Equal(t, []any{10.0}, run(t, e, code, 10.0))

	result := e.Run(context.Background(), code, []any{1000.0})
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "stack overflow")

	assert.Equal(t, []any{5.0}, run(t, e, code, 5.0))
}

func TestIsStandardGlobal(t *testing.T) {
	for _, name := range []string{"print", "_G", "_VERSION", "utf8", "require", "package"} {
		assert.True(t, executor.IsStandardGlobal(name), name)
	}
	for _, name := range []string{"x", "Print", ""} {
		assert.False(t, executor.IsStandardGlobal(name), name)
	}
}
