package marshal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

var (
	ErrDepthExceeded       = errors.New("table nesting too deep")
	ErrTooManyValues       = errors.New("too many values to convert")
	ErrUnsupportedArgument = errors.New("unsupported argument type")
)

const (
	// DefaultMaxDepth matches the C Lua limit on nested C calls.
	DefaultMaxDepth = 200

	// DefaultMaxNodes bounds the work done for one result. Shared sub-tables
	// are expanded at every reference, so a small table graph can describe
	// an exponentially large tree.
	DefaultMaxNodes = 1 << 20

	ctxCheckInterval = 1024
)

// Kind tags the structured shape of a Lua value.
type Kind int

const (
	KindNil Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindMap
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	default:
		return "unsupported"
	}
}

// KindOf classifies v. Tables are classified as arrays only when their keys
// are exactly 1..n with a non-nil first element.
func KindOf(v lua.LValue) Kind {
	switch lv := v.(type) {
	case *lua.LNilType:
		return KindNil
	case lua.LBool:
		return KindBool
	case lua.LNumber:
		return KindNumber
	case lua.LString:
		return KindString
	case *lua.LTable:
		if isArray(lv) {
			return KindArray
		}
		return KindMap
	default:
		return KindUnsupported
	}
}

// Option configures a conversion.
type Option func(*config)

type config struct {
	ctx      context.Context
	maxDepth int
	maxNodes int
}

func defaultConfig() config {
	return config{maxDepth: DefaultMaxDepth, maxNodes: DefaultMaxNodes}
}

// WithMaxDepth sets the maximum table nesting accepted by FromLua.
func WithMaxDepth(depth int) Option {
	return func(c *config) {
		if depth > 0 {
			c.maxDepth = depth
		}
	}
}

// WithMaxNodes caps the number of values visited by one FromLua or
// FromLuaAll call. A table reachable through several fields is counted once
// per reference.
func WithMaxNodes(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxNodes = n
		}
	}
}

// WithContext stops a conversion once ctx is done.
func WithContext(ctx context.Context) Option {
	return func(c *config) {
		c.ctx = ctx
	}
}

func newConverter(opts []Option) *converter {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &converter{config: cfg}
}

// FromLua converts a Lua value into nil, bool, float64, string, []any or
// map[string]any. Functions, userdata, threads and channels become nil.
func FromLua(v lua.LValue, opts ...Option) (any, error) {
	return newConverter(opts).convert(v, 0)
}

// FromLuaAll converts each value in order. The node budget is shared by all
// values.
func FromLuaAll(values []lua.LValue, opts ...Option) ([]any, error) {
	c := newConverter(opts)
	out := make([]any, 0, len(values))
	for i, v := range values {
		gv, err := c.convert(v, 0)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i+1, err)
		}
		out = append(out, gv)
	}
	return out, nil
}

type converter struct {
	config
	nodes int
}

// visit charges one node against the budget and polls the context every
// ctxCheckInterval nodes.
func (c *converter) visit() error {
	c.nodes++
	if c.nodes > c.maxNodes {
		return fmt.Errorf("%w (limit %d)", ErrTooManyValues, c.maxNodes)
	}
	if c.ctx != nil && c.nodes%ctxCheckInterval == 0 {
		if err := c.ctx.Err(); err != nil {
			return fmt.Errorf("conversion stopped: %w", err)
		}
	}
	return nil
}

func (c *converter) convert(v lua.LValue, depth int) (any, error) {
	if err := c.visit(); err != nil {
		return nil, err
	}
	switch lv := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(lv), nil
	case lua.LNumber:
		return float64(lv), nil
	case lua.LString:
		return string(lv), nil
	case *lua.LTable:
		if depth >= c.maxDepth {
			return nil, fmt.Errorf("%w (limit %d)", ErrDepthExceeded, c.maxDepth)
		}
		if isArray(lv) {
			return c.array(lv, depth)
		}
		return c.object(lv, depth)
	default:
		return nil, nil
	}
}

// isArray reports whether every key is numeric, the key count equals the
// table's border and index 1 holds a value.
func isArray(tbl *lua.LTable) bool {
	n := 0
	numeric := true
	tbl.ForEach(func(key, _ lua.LValue) {
		n++
		if key.Type() != lua.LTNumber {
			numeric = false
		}
	})
	if !numeric {
		return false
	}
	if n > 0 && tbl.RawGetInt(1) == lua.LNil {
		return false
	}
	return n == tbl.Len()
}

func (c *converter) array(tbl *lua.LTable, depth int) ([]any, error) {
	n := tbl.Len()
	arr := make([]any, 0, n)
	for i := 1; i <= n; i++ {
		v, err := c.convert(tbl.RawGetInt(i), depth+1)
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)
	}
	return arr, nil
}

func (c *converter) object(tbl *lua.LTable, depth int) (map[string]any, error) {
	m := make(map[string]any)
	var err error
	tbl.ForEach(func(key, value lua.LValue) {
		if err != nil {
			return
		}
		k, ok := keyString(key)
		if !ok {
			return
		}
		var v any
		v, err = c.convert(value, depth+1)
		if err == nil {
			m[k] = v
		}
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// keyString stringifies a map key. Keys that are not strings, numbers or
// booleans cannot be represented and are dropped by the caller.
func keyString(key lua.LValue) (string, bool) {
	switch k := key.(type) {
	case lua.LString:
		return string(k), true
	case lua.LNumber:
		return k.String(), true
	case lua.LBool:
		if k {
			return "true", true
		}
		return "false", true
	default:
		return "", false
	}
}

// ToLua converts a scalar call argument. Tables are not accepted as
// arguments.
func ToLua(v any) (lua.LValue, error) {
	switch x := v.(type) {
	case nil:
		return lua.LNil, nil
	case lua.LValue:
		switch x.Type() {
		case lua.LTNil, lua.LTBool, lua.LTNumber, lua.LTString:
			return x, nil
		}
	case bool:
		return lua.LBool(x), nil
	case float64:
		return lua.LNumber(x), nil
	case float32:
		return lua.LNumber(x), nil
	case int:
		return lua.LNumber(x), nil
	case int8:
		return lua.LNumber(x), nil
	case int16:
		return lua.LNumber(x), nil
	case int32:
		return lua.LNumber(x), nil
	case int64:
		return lua.LNumber(x), nil
	case uint8:
		return lua.LNumber(x), nil
	case uint16:
		return lua.LNumber(x), nil
	case uint32:
		return lua.LNumber(x), nil
	case string:
		return lua.LString(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return lua.LNil, fmt.Errorf("%w: %q", ErrUnsupportedArgument, x.String())
		}
		return lua.LNumber(f), nil
	}
	return lua.LNil, fmt.Errorf("%w: %T", ErrUnsupportedArgument, v)
}

// ToLuaAll converts a whole argument list, stopping at the first value that
// cannot be passed to a chunk.
func ToLuaAll(args []any) ([]lua.LValue, error) {
	out := make([]lua.LValue, 0, len(args))
	for i, a := range args {
		lv, err := ToLua(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		out = append(out, lv)
	}
	return out, nil
}
