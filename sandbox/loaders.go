package sandbox

import (
	"fmt"
	"os"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Loaders receive the package table when they are built, so every loader and
// the read-only proxy observe the same table.

func preloadLoader(pkg *lua.LTable) lua.LGFunction {
	return func(L *lua.LState) int {
		name := L.CheckString(1)
		preload, ok := pkg.RawGetString("preload").(*lua.LTable)
		if !ok {
			L.RaiseError("package.preload must be a table")
		}
		if fn := preload.RawGetString(name); fn != lua.LNil {
			L.Push(fn)
			return 1
		}
		L.Push(lua.LString(fmt.Sprintf("\n\tno field package.preload['%s']", name)))
		return 1
	}
}

func luaFileLoader(pkg *lua.LTable) lua.LGFunction {
	return func(L *lua.LState) int {
		name := L.CheckString(1)
		path, ok := pkg.RawGetString("path").(lua.LString)
		if !ok {
			L.RaiseError("package.path must be a string")
		}
		filename, tried := searchPath(name, string(path), ".", string(os.PathSeparator))
		if filename == "" {
			L.Push(lua.LString(tried))
			return 1
		}
		fn, err := L.LoadFile(filename)
		if err != nil {
			L.RaiseError("error loading module '%s' from file '%s':\n\t%s", name, filename, err.Error())
		}
		L.Push(fn)
		return 1
	}
}

// searchPathFunc implements package.searchpath(name, path [, sep [, rep]]).
func searchPathFunc(L *lua.LState) int {
	name := L.CheckString(1)
	path := L.CheckString(2)
	sep := L.OptString(3, ".")
	rep := L.OptString(4, string(os.PathSeparator))
	filename, tried := searchPath(name, path, sep, rep)
	if filename == "" {
		return pushFailure(L, tried)
	}
	L.Push(lua.LString(filename))
	return 1
}

// searchPath substitutes name into each ';'-separated template and returns the
// first readable regular file, or the list of tried names.
func searchPath(name, path, sep, rep string) (string, string) {
	if sep != "" {
		name = strings.ReplaceAll(name, sep, rep)
	}
	var tried strings.Builder
	for _, tpl := range strings.Split(path, ";") {
		if tpl == "" {
			continue
		}
		filename := strings.ReplaceAll(tpl, "?", name)
		if readable(filename) {
			return filename, ""
		}
		fmt.Fprintf(&tried, "\n\tno file '%s'", filename)
	}
	return "", tried.String()
}

func readable(filename string) bool {
	info, err := os.Stat(filename)
	if err != nil || info.IsDir() {
		return false
	}
	f, err := os.Open(filename)
	if err != nil {
		return false
	}
	f.Close()
	return true
}
