package sandbox

import (
	"errors"
	"fmt"
	"log/slog"

	lua "github.com/yuin/gopher-lua"
)

var ErrReadOnly = errors.New("table is read-only")

// readOnlyMetatable is what getmetatable returns for a proxy; its presence
// also stops setmetatable from replacing the proxy's metatable.
const readOnlyMetatable = "readonly"

// ReadOnlyTable holds a real table and exposes it for reading only.
type ReadOnlyTable struct {
	name string
	tbl  *lua.LTable
}

func NewReadOnlyTable(name string, tbl *lua.LTable) *ReadOnlyTable {
	return &ReadOnlyTable{name: name, tbl: tbl}
}

func (t *ReadOnlyTable) Name() string {
	return t.name
}

// Get forwards to the real table without metamethods.
func (t *ReadOnlyTable) Get(key lua.LValue) lua.LValue {
	return t.tbl.RawGet(key)
}

// Set always fails.
func (t *ReadOnlyTable) Set(key, _ lua.LValue) error {
	return fmt.Errorf("%w: %s.%s", ErrReadOnly, t.name, key.String())
}

// newReadOnlyProxy exposes t to scripts as a userdata. Reads go through
// __index, writes through __newindex which logs and drops them.
func newReadOnlyProxy(L *lua.LState, t *ReadOnlyTable, logger *slog.Logger) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = t

	mt := L.NewTable()
	mt.RawSetString("__index", L.NewFunction(func(L *lua.LState) int {
		L.Push(checkReadOnly(L).Get(L.Get(2)))
		return 1
	}))
	mt.RawSetString("__newindex", L.NewFunction(func(L *lua.LState) int {
		rt := checkReadOnly(L)
		if err := rt.Set(L.Get(2), L.Get(3)); err != nil {
			logger.Warn("rejected write to read-only table", "table", rt.Name(), "key", L.Get(2).String())
		}
		return 0
	}))
	mt.RawSetString("__tostring", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(checkReadOnly(L).Name() + " (readonly)"))
		return 1
	}))
	mt.RawSetString("__metatable", lua.LString(readOnlyMetatable))
	ud.Metatable = mt
	return ud
}

func checkReadOnly(L *lua.LState) *ReadOnlyTable {
	ud := L.CheckUserData(1)
	t, ok := ud.Value.(*ReadOnlyTable)
	if !ok {
		L.ArgError(1, "read-only table expected")
	}
	return t
}
