package sandbox

import (
	"fmt"
	"log/slog"
	"runtime"

	lua "github.com/yuin/gopher-lua"
)

// Base library functions that are removed outright. dofile and loadfile
// accept arbitrary host paths; _printregs writes to the host's stdout.
var removedBaseFuncs = []string{"dofile", "loadfile", "_printregs"}

// Option configures a Policy.
type Option func(*policyConfig)

type policyConfig struct {
	logger *slog.Logger
}

// WithLogger sets the logger for denied operations and rejected writes.
func WithLogger(logger *slog.Logger) Option {
	return func(c *policyConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Policy restricts a fresh LState to the capabilities of its Config.
type Policy struct {
	cfg    Config
	jail   *Jail
	logger *slog.Logger
}

// New builds a policy. The jail root is resolved here, once.
func New(cfg Config, opts ...Option) (*Policy, error) {
	pc := policyConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&pc)
	}

	if cfg.IODir == "" {
		cfg.IODir = DefaultIODir
	}
	jail, err := NewJail(cfg.IODir)
	if err != nil {
		return nil, err
	}
	cfg.IODir = jail.Root()

	return &Policy{
		cfg:    cfg,
		jail:   jail,
		logger: pc.logger,
	}, nil
}

// Config returns a copy of the policy's configuration.
func (p *Policy) Config() Config {
	return p.cfg
}

// Jail returns the containment checker used for file functions.
func (p *Policy) Jail() *Jail {
	return p.jail
}

// Apply opens the permitted libraries into L, which must have been created
// with SkipOpenLibs. printFn becomes the global print function. The steps run
// in a fixed order: later ones rely on tables created by earlier ones.
func (p *Policy) Apply(L *lua.LState, printFn lua.LGFunction) error {
	if _, err := openLib(L, lua.BaseLibName, lua.OpenBase); err != nil {
		return err
	}
	for _, name := range removedBaseFuncs {
		L.SetGlobal(name, lua.LNil)
	}

	L.SetGlobal("print", L.NewFunction(printFn))

	if err := p.openPackage(L); err != nil {
		return err
	}

	if _, err := openLib(L, lua.CoroutineLibName, lua.OpenCoroutine); err != nil {
		return err
	}
	if _, err := openLib(L, lua.TabLibName, lua.OpenTable); err != nil {
		return err
	}

	if err := p.openIO(L); err != nil {
		return err
	}
	if err := p.openOS(L); err != nil {
		return err
	}

	if _, err := openLib(L, lua.StringLibName, lua.OpenString); err != nil {
		return err
	}
	if _, err := openLib(L, lua.MathLibName, lua.OpenMath); err != nil {
		return err
	}
	if _, err := openLib(L, UTF8LibName, OpenUTF8); err != nil {
		return err
	}
	if p.cfg.OpenDebugLib {
		p.logger.Warn("debug library enabled; sandbox restrictions can be bypassed")
		if _, err := openLib(L, lua.DebugLibName, lua.OpenDebug); err != nil {
			return err
		}
	}

	// Drop the replaced library functions.
	runtime.GC()
	return nil
}

func openLib(L *lua.LState, name string, fn lua.LGFunction) (*lua.LTable, error) {
	if err := L.CallByParam(lua.P{
		Fn:      L.NewFunction(fn),
		NRet:    1,
		Protect: true,
	}, lua.LString(name)); err != nil {
		return nil, fmt.Errorf("open library %q: %w", name, err)
	}
	mod := L.Get(-1)
	L.Pop(1)
	tbl, ok := mod.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("open library %q: got %s, want table", name, mod.Type())
	}
	return tbl, nil
}

func (p *Policy) openPackage(L *lua.LState) error {
	pkg, err := openLib(L, lua.LoadLibName, lua.OpenPackage)
	if err != nil {
		return err
	}

	pkg.RawSetString("path", lua.LString(DefaultModulePath))
	cpath := ""
	if p.cfg.AllowNativeModules {
		cpath = DefaultNativePath
	}
	pkg.RawSetString("cpath", lua.LString(cpath))

	if !p.cfg.AllowLoadlib {
		pkg.RawSetString("loadlib", L.NewFunction(p.denied("package.loadlib")))
	}
	// searchpath tells a script whether any file exists, so it is only
	// real when file access is unrestricted.
	if p.cfg.UnjailIO {
		pkg.RawSetString("searchpath", L.NewFunction(searchPathFunc))
	} else {
		pkg.RawSetString("searchpath", L.NewFunction(p.denied("package.searchpath")))
	}

	loaders := L.CreateTable(2, 0)
	loaders.RawSetInt(1, L.NewFunction(preloadLoader(pkg)))
	loaders.RawSetInt(2, L.NewFunction(luaFileLoader(pkg)))
	pkg.RawSetString("loaders", loaders)

	registry, ok := L.Get(lua.RegistryIndex).(*lua.LTable)
	if !ok {
		return fmt.Errorf("open library %q: registry is not a table", lua.LoadLibName)
	}
	registry.RawSetString("_LOADERS", loaders)

	proxy := newReadOnlyProxy(L, NewReadOnlyTable(lua.LoadLibName, pkg), p.logger)
	L.SetGlobal(lua.LoadLibName, proxy)
	if loaded, ok := registry.RawGetString("_LOADED").(*lua.LTable); ok {
		loaded.RawSetString(lua.LoadLibName, proxy)
	}
	return nil
}

func (p *Policy) openIO(L *lua.LState) error {
	io, err := openLib(L, lua.IoLibName, lua.OpenIo)
	if err != nil {
		return err
	}
	if !p.cfg.UnjailIO {
		input, output := io.RawGetString("input"), io.RawGetString("output")
		for _, name := range []string{"open", "lines", "input", "output"} {
			io.RawSetString(name, L.NewFunction(p.jailed("io."+name, io.RawGetString(name), 1)))
		}
		io.RawSetString("tmpfile", L.NewFunction(p.denied("io.tmpfile")))
		p.guardStdio(L, io, input, output)
	}
	if !p.cfg.AllowProcessExec {
		io.RawSetString("popen", L.NewFunction(p.denied("io.popen")))
	}
	return nil
}

// guardStdio keeps the host's standard streams out of reach. The io.stdin,
// io.stdout and io.stderr handles are removed, and functions that fall back
// to the default input or output are denied while that default is still a
// host stream. A default redirected to a jailed file with io.input or
// io.output works as usual.
func (p *Policy) guardStdio(L *lua.LState, io *lua.LTable, input, output lua.LValue) {
	std := make(map[lua.LValue]bool, 3)
	for _, name := range []string{"stdin", "stdout", "stderr"} {
		std[io.RawGetString(name)] = true
		io.RawSetString(name, lua.LNil)
	}

	guard := func(name string, current lua.LValue, argless bool) {
		fn := io.RawGetString(name)
		deny := p.denied("io." + name)
		io.RawSetString(name, L.NewFunction(func(L *lua.LState) int {
			if (!argless || L.Get(1) == lua.LNil) && isStdStream(L, current, std) {
				return deny(L)
			}
			L.Insert(fn, 1)
			L.Call(L.GetTop()-1, lua.MultRet)
			return L.GetTop()
		}))
	}
	guard("write", output, false)
	guard("flush", output, false)
	guard("read", input, false)
	guard("lines", input, true)
	guard("close", output, true)
	guard("input", input, true)
	guard("output", output, true)
}

// isStdStream reports whether the default file returned by getter is one
// of the host's standard streams.
func isStdStream(L *lua.LState, getter lua.LValue, std map[lua.LValue]bool) bool {
	L.Push(getter)
	L.Call(0, 1)
	def := L.Get(-1)
	L.Pop(1)
	return std[def]
}

func (p *Policy) openOS(L *lua.LState) error {
	os, err := openLib(L, lua.OsLibName, lua.OpenOs)
	if err != nil {
		return err
	}
	if !p.cfg.AllowProcessExec {
		os.RawSetString("execute", L.NewFunction(p.denied("os.execute")))
		os.RawSetString("setenv", L.NewFunction(p.denied("os.setenv")))
	}
	os.RawSetString("exit", L.NewFunction(func(L *lua.LState) int {
		p.logger.Warn("script called os.exit")
		L.RaiseError("os.exit() is called")
		return 0
	}))
	if !p.cfg.UnjailIO {
		os.RawSetString("remove", L.NewFunction(p.jailed("os.remove", os.RawGetString("remove"), 1)))
		os.RawSetString("rename", L.NewFunction(p.jailed("os.rename", os.RawGetString("rename"), 2)))
		os.RawSetString("tmpname", L.NewFunction(p.denied("os.tmpname")))
	}
	return nil
}

// denied returns a stub that fails the way Lua file functions do: nil plus
// a message, without raising.
func (p *Policy) denied(name string) lua.LGFunction {
	msg := name + "() is not allowed"
	return func(L *lua.LState) int {
		p.logger.Warn("capability denied", "function", name)
		return pushFailure(L, msg)
	}
}

// jailed wraps a file function so that its first pathArgs string arguments
// must resolve inside the jail. Checked paths are replaced by their resolved
// form before the real function runs.
func (p *Policy) jailed(name string, fn lua.LValue, pathArgs int) lua.LGFunction {
	return func(L *lua.LState) int {
		if !p.cfg.AllowJailIO {
			p.logger.Warn("capability denied", "function", name)
			return pushFailure(L, "io operation is not allowed.")
		}
		for i := 1; i <= pathArgs && i <= L.GetTop(); i++ {
			path, ok := pathArg(L.Get(i))
			if !ok {
				continue
			}
			resolved, err := p.jail.Resolve(path)
			if err != nil {
				p.logger.Warn("path rejected", "function", name, "path", path, "error", err)
				return pushFailure(L, err.Error())
			}
			L.Replace(i, lua.LString(resolved))
		}
		L.Insert(fn, 1)
		L.Call(L.GetTop()-1, lua.MultRet)
		return L.GetTop()
	}
}

func pathArg(v lua.LValue) (string, bool) {
	switch s := v.(type) {
	case lua.LString:
		return string(s), true
	case lua.LNumber:
		return s.String(), true
	}
	return "", false
}

func pushFailure(L *lua.LState, msg string) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(msg))
	return 2
}
