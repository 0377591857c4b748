// Package executor runs Lua scripts in sandboxed gopher-lua states.
//
// # Overview
//
// An [Engine] owns one Lua state restricted by a [sandbox.Config]. Globals
// persist between runs, so an engine is a session. A [Pool] hands out one
// engine per session id.
//
// # Basic Usage
//
//	engine, err := executor.New(sandbox.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close()
//
//	result := engine.Run(ctx, `local a, b = ... return a + b`, []any{1, 2})
//	fmt.Println(result.Values) // [3]
//
// # Results
//
// Every value the chunk returns is converted by the marshal package. Lua
// runtime errors are reported as an [*ExecError] in Result.Error; the
// engine stays usable. Syntax errors are not errors at all: they come back
// as the values nil and the compiler message.
//
// # Print
//
// print never writes to a stream. Each call is recorded in Result.Prints
// and, with [WithPrint], passed to a callback while the script runs:
//
//	engine.Run(ctx, `print("hi", 1)`, nil, executor.WithPrint(func(args []any) {
//	    log.Println(args...)
//	}))
//
// # Sessions
//
//	pool := executor.NewPool(sandbox.DefaultConfig())
//	defer pool.Close()
//
//	engine, id, err := pool.GetOrCreate("") // new session, fresh id
//	engine.Run(ctx, `x = 42`, nil)
//	same, _, _ := pool.GetOrCreate(id)
//	same.Run(ctx, `return x`, nil) // [42]
//
// # Timeouts
//
// Runs are bounded by [DefaultTimeout] unless [WithTimeout] or
// [WithRunTimeout] says otherwise; the error then reads "timeout after 30s".
// Canceling the context passed to Run, or letting its own deadline pass,
// stops the script as well and reports "execution interrupted".
package executor
