package executor

// StandardGlobals are the names the sandbox itself defines: base library
// functions, runtime built-ins and standard library tables. Names removed
// by the sandbox are listed too, so that enabling them later does not
// change what counts as user-defined.
var StandardGlobals = []string{
	"_G",
	"_GOPHER_LUA_VERSION",
	"_VERSION",
	"_printregs",
	"assert",
	"collectgarbage",
	"dofile",
	"error",
	"getfenv",
	"getmetatable",
	"ipairs",
	"load",
	"loadfile",
	"loadstring",
	"module",
	"newproxy",
	"next",
	"pairs",
	"pcall",
	"print",
	"rawequal",
	"rawget",
	"rawlen",
	"rawset",
	"require",
	"select",
	"setfenv",
	"setmetatable",
	"tonumber",
	"tostring",
	"type",
	"unpack",
	"warn",
	"xpcall",

	"channel",
	"coroutine",
	"debug",
	"io",
	"math",
	"os",
	"package",
	"string",
	"table",
	"utf8",
}

var standardGlobals = func() map[string]struct{} {
	m := make(map[string]struct{}, len(StandardGlobals))
	for _, name := range StandardGlobals {
		m[name] = struct{}{}
	}
	return m
}()

// IsStandardGlobal reports whether name is one of StandardGlobals.
func IsStandardGlobal(name string) bool {
	_, ok := standardGlobals[name]
	return ok
}
