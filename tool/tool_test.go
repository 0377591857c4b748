package tool

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/caffeineduck/luabox/executor"
	"github.com/caffeineduck/luabox/sandbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type event struct {
	kind string
	data map[string]any
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) Notify(_ context.Context, kind string, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{kind, data})
}

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kinds []string
	for _, e := range r.events {
		kinds = append(kinds, e.kind)
	}
	return kinds
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pool := executor.NewPool(sandbox.DefaultConfig(), executor.WithLogger(logger))
	t.Cleanup(func() { pool.Close() })
	return NewService(pool, WithLogger(logger))
}

func TestEvalScenarios(t *testing.T) {
	svc := newTestService(t)

	tests := []struct {
		code string
		want string
	}{
		{`return 1, 2, 3`, `[1,2,3]`},
		{`return {10, 20, 30}`, `[[10,20,30]]`},
		{`return {a = 1, b = 2}`, `[{"a":1,"b":2}]`},
		{`return`, `[]`},
		{`return nil, "x"`, `[null,"x"]`},
		{`return 1/0, -1/0`, `["inf","-inf"]`},
		{`return {}`, `[[]]`},
		{`return 0.5, "ü"`, `[0.5,"ü"]`},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			out := svc.Eval(context.Background(), EvalInput{Code: tt.code}, nil)
			assert.Empty(t, out.Error)
			assert.JSONEq(t, tt.want, out.Result)
			assert.NotEmpty(t, out.SessionID)
		})
	}
}

func TestEvalSessions(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first := svc.Eval(ctx, EvalInput{Code: `x = 10`}, nil)
	require.Empty(t, first.Error)

	again := svc.Eval(ctx, EvalInput{SessionID: first.SessionID, Code: `return x`}, nil)
	assert.Equal(t, first.SessionID, again.SessionID)
	assert.JSONEq(t, `[10]`, again.Result)

	fresh := svc.Eval(ctx, EvalInput{Code: `return x`}, nil)
	assert.NotEqual(t, first.SessionID, fresh.SessionID)
	assert.JSONEq(t, `[null]`, fresh.Result)

	named := svc.Eval(ctx, EvalInput{SessionID: "mine", Code: `return 1`}, nil)
	assert.Equal(t, "mine", named.SessionID)
}

func TestEvalArgs(t *testing.T) {
	svc := newTestService(t)

	out := svc.Eval(context.Background(), EvalInput{
		Code: `local a, b = ... return a * 2, b`,
		Args: []any{21.0, "x"},
	}, nil)
	assert.Empty(t, out.Error)
	assert.JSONEq(t, `[42,"x"]`, out.Result)

	out = svc.Eval(context.Background(), EvalInput{Code: `return ...`, Args: []any{map[string]any{}}}, nil)
	assert.Contains(t, out.Error, "unsupported argument")
}

func TestEvalNotifications(t *testing.T) {
	svc := newTestService(t)
	rec := &recorder{}

	out := svc.Eval(context.Background(), EvalInput{
		Code: `print("hello", 1) print({1, 2}) return true`,
	}, rec)
	require.Empty(t, out.Error)

	assert.Equal(t, []string{EventEval, EventPrint, EventPrint}, rec.kinds())
	assert.Equal(t, map[string]any{"code": `print("hello", 1) print({1, 2}) return true`}, rec.events[0].data)
	assert.Equal(t, map[string]any{"args": `["hello",1]`}, rec.events[1].data)
	assert.Equal(t, map[string]any{"args": `[[1,2]]`}, rec.events[2].data)
	assert.Equal(t, []string{`["hello",1]`, `[[1,2]]`}, out.Prints)
	assert.JSONEq(t, `[true]`, out.Result)
}

func TestEvalRuntimeError(t *testing.T) {
	svc := newTestService(t)
	rec := &recorder{}

	out := svc.Eval(context.Background(), EvalInput{Code: `print("x") error("boom")`}, rec)
	require.NotEmpty(t, out.Error)
	assert.Contains(t, out.Error, "boom")
	assert.NotEmpty(t, out.SessionID)
	assert.Equal(t, []string{EventEval, EventPrint, EventError}, rec.kinds())
	assert.Equal(t, out.Error, rec.events[2].data["message"])

	var result []any
	require.NoError(t, json.Unmarshal([]byte(out.Result), &result))
	require.Len(t, result, 2)
	assert.Nil(t, result[0])
	assert.Equal(t, out.Error, result[1])

	ok := svc.Eval(context.Background(), EvalInput{SessionID: out.SessionID, Code: `return 1`}, nil)
	assert.Empty(t, ok.Error)
}

func TestEvalCompileErrorIsAResult(t *testing.T) {
	svc := newTestService(t)
	rec := &recorder{}

	out := svc.Eval(context.Background(), EvalInput{Code: `return 1+`}, rec)
	assert.Empty(t, out.Error)
	assert.Equal(t, []string{EventEval}, rec.kinds())

	var result []any
	require.NoError(t, json.Unmarshal([]byte(out.Result), &result))
	require.Len(t, result, 2)
	assert.Nil(t, result[0])
	assert.Contains(t, result[1], "syntax error")
}

func TestEvalDeniedCapability(t *testing.T) {
	svc := newTestService(t)

	out := svc.Eval(context.Background(), EvalInput{Code: `return os.execute("ls")`}, nil)
	assert.JSONEq(t, `[null,"os.execute() is not allowed"]`, out.Result)
}

func TestEvalAfterPoolClosed(t *testing.T) {
	pool := executor.NewPool(sandbox.DefaultConfig())
	svc := NewService(pool, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, pool.Close())

	rec := &recorder{}
	out := svc.Eval(context.Background(), EvalInput{SessionID: "s", Code: `return 1`}, rec)
	assert.Equal(t, "s", out.SessionID)
	assert.Equal(t, executor.ErrPoolClosed.Error(), out.Error)
	assert.Equal(t, []string{EventEval, EventError}, rec.kinds())
}

func TestListGlobals(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	out := svc.Eval(ctx, EvalInput{Code: `x = 1 function f() end`}, nil)
	require.Empty(t, out.Error)

	got, err := svc.ListGlobals(ctx, ListGlobalsInput{SessionID: out.SessionID})
	require.NoError(t, err)
	assert.Equal(t, out.SessionID, got.SessionID)
	assert.Equal(t, []string{"f", "x"}, got.Globals)

	got, err = svc.ListGlobals(ctx, ListGlobalsInput{SessionID: out.SessionID, NoFilter: true})
	require.NoError(t, err)
	assert.Contains(t, got.Globals, "x")
	assert.Contains(t, got.Globals, "print")
	assert.Contains(t, got.Globals, "table")
	assert.Contains(t, got.Globals, "os")
}

func TestListGlobalsCreatesSession(t *testing.T) {
	svc := newTestService(t)

	got, err := svc.ListGlobals(context.Background(), ListGlobalsInput{SessionID: "new"})
	require.NoError(t, err)
	assert.Equal(t, "new", got.SessionID)
	assert.Empty(t, got.Globals)
	assert.NotNil(t, got.Globals)
}

func TestListGlobalsRequiresSession(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.ListGlobals(context.Background(), ListGlobalsInput{SessionID: "  "})
	assert.ErrorIs(t, err, ErrSessionRequired)
}

func TestNotifierFunc(t *testing.T) {
	var got string
	n := NotifierFunc(func(_ context.Context, kind string, _ map[string]any) { got = kind })
	n.Notify(context.Background(), EventPrint, nil)
	assert.Equal(t, EventPrint, got)
}
