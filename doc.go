// Package luabox runs untrusted Lua 5.1 scripts inside a capability-restricted
// interpreter and exposes them as tools.
//
// # Overview
//
// luabox embeds gopher-lua with a sandbox policy applied before any script
// runs. Process execution, file access, native modules and the debug library
// are off by default and must be enabled explicitly. File access can be
// confined to a single jail directory.
//
// # Basic Usage
//
//	engine, _ := executor.New(sandbox.DefaultConfig())
//	defer engine.Close()
//
//	result := engine.Run(ctx, `return 1 + 1, {a = 2}`, nil)
//	fmt.Println(result.Values) // [2 map[a:2]]
//
//	// Sessions keep globals between runs
//	pool := executor.NewPool(sandbox.DefaultConfig())
//	e, id, _ := pool.GetOrCreate("")
//	e.Run(ctx, `x = 42`, nil)
//	same, _, _ := pool.GetOrCreate(id)
//	same.Run(ctx, `return x`, nil) // [42]
//
// # Enabling Capabilities
//
//	cfg := sandbox.DefaultConfig()
//	cfg.AllowJailIO = true // io.open etc. inside cfg.IODir
//	cfg.AllowProcessExec = true
//	engine, _ := executor.New(cfg)
//
// # Serving
//
// The [tool] package wraps a session pool as eval and list-globals tools,
// and [mcpserver] serves them over the Model Context Protocol. The luabox
// command runs scripts, starts a REPL, or serves the tools over stdio or
// HTTP.
//
// See the [executor], [sandbox], [marshal], [tool] and [mcpserver] packages
// for detailed API documentation.
package luabox
