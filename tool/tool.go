package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/caffeineduck/luabox/executor"
)

// Notification kinds sent while a script is evaluated.
const (
	EventEval  = "eval"
	EventPrint = "print"
	EventError = "error"
)

var ErrSessionRequired = errors.New("sessionId is required")

// Notifier delivers out-of-band events to the caller of a tool.
type Notifier interface {
	Notify(ctx context.Context, kind string, data map[string]any)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, kind string, data map[string]any)

func (f NotifierFunc) Notify(ctx context.Context, kind string, data map[string]any) {
	f(ctx, kind, data)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string, map[string]any) {}

type EvalInput struct {
	SessionID string `json:"sessionId,omitempty" jsonschema:"session id to specify the lua environment; keep it empty to create a new one"`
	Code      string `json:"code" jsonschema:"lua source code to eval"`
	Args      []any  `json:"args,omitempty" jsonschema:"scalar arguments passed to the chunk as ..."`
}

type EvalOutput struct {
	SessionID string `json:"sessionId"`
	// Result is the JSON array of returned values, or [null, message] when
	// the run failed.
	Result string `json:"result"`
	// Prints holds one JSON array per print call.
	Prints []string `json:"prints,omitempty"`
	Error  string   `json:"error,omitempty"`
}

type ListGlobalsInput struct {
	SessionID string `json:"sessionId" jsonschema:"session id to specify the lua environment"`
	NoFilter  bool   `json:"noFilter,omitempty" jsonschema:"do not filter out standard libraries and built-ins"`
}

type ListGlobalsOutput struct {
	SessionID string   `json:"sessionId"`
	Globals   []string `json:"globals"`
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Service implements the eval and list-globals tools on top of a session
// pool, independent of any transport.
type Service struct {
	pool   *executor.Pool
	logger *slog.Logger
}

func NewService(pool *executor.Pool, opts ...Option) *Service {
	s := &Service{
		pool:   pool,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Eval runs in.Code in the session named by in.SessionID, creating the
// session when needed. Failures are reported in the output, never as a Go
// error, so the session id always reaches the caller.
func (s *Service) Eval(ctx context.Context, in EvalInput, n Notifier) EvalOutput {
	if n == nil {
		n = nopNotifier{}
	}
	n.Notify(ctx, EventEval, map[string]any{"code": in.Code})

	engine, id, err := s.pool.GetOrCreate(in.SessionID)
	if err != nil {
		return s.fail(ctx, n, EvalOutput{SessionID: id}, err)
	}

	out := EvalOutput{SessionID: id}
	result := engine.Run(ctx, in.Code, in.Args, executor.WithPrint(func(args []any) {
		text := encodeJSON(args)
		out.Prints = append(out.Prints, text)
		n.Notify(ctx, EventPrint, map[string]any{"args": text})
	}))
	if result.Error != nil {
		return s.fail(ctx, n, out, result.Error)
	}

	out.Result = encodeJSON(result.Values)
	s.logger.Debug("eval finished", "session", id, "duration", result.Duration, "values", len(result.Values))
	return out
}

func (s *Service) fail(ctx context.Context, n Notifier, out EvalOutput, err error) EvalOutput {
	msg := err.Error()
	s.logger.Warn("eval failed", "session", out.SessionID, "error", err)
	n.Notify(ctx, EventError, map[string]any{"message": msg})
	out.Result = encodeJSON([]any{nil, msg})
	out.Error = msg
	return out
}

// ListGlobals lists the global names of an existing or new session.
func (s *Service) ListGlobals(ctx context.Context, in ListGlobalsInput) (ListGlobalsOutput, error) {
	if strings.TrimSpace(in.SessionID) == "" {
		return ListGlobalsOutput{}, ErrSessionRequired
	}
	engine, id, err := s.pool.GetOrCreate(in.SessionID)
	if err != nil {
		return ListGlobalsOutput{SessionID: id}, err
	}
	names, err := engine.Globals(in.NoFilter)
	if err != nil {
		return ListGlobalsOutput{SessionID: id}, fmt.Errorf("list globals: %w", err)
	}
	return ListGlobalsOutput{SessionID: id, Globals: names}, nil
}

// encodeJSON renders converted Lua values as a JSON array.
func encodeJSON(values []any) string {
	data, err := json.Marshal(jsonSafe(values))
	if err != nil {
		data, _ = json.Marshal([]any{nil, err.Error()})
	}
	return string(data)
}
