// Package sandbox restricts a gopher-lua state to a safe subset of the Lua
// standard library.
//
// # Overview
//
// A [Policy] is built once from a [Config] and applied to a state created
// with SkipOpenLibs. Every capability is off unless its flag is set:
//
//	p, err := sandbox.New(sandbox.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	L := lua.NewState(lua.Options{SkipOpenLibs: true})
//	if err := p.Apply(L, printHook); err != nil {
//	    log.Fatal(err)
//	}
//
// # What scripts see
//
//   - dofile, loadfile and _printregs do not exist
//   - print calls the hook given to Apply
//   - package is a read-only proxy; writes are logged and dropped
//   - require finds package.preload entries and Lua files on a fixed path
//   - io, os file functions only reach paths inside Config.IODir, and only
//     when AllowJailIO is set
//   - os.execute, io.popen and os.setenv are stubs unless AllowProcessExec
//   - os.exit raises an error instead of ending the host process
//   - debug is absent unless OpenDebugLib
//
// Denied functions follow the Lua convention for failures and return nil
// plus a message:
//
//	> return os.execute("ls")
//	nil    os.execute() is not allowed
//
// # Jail
//
// [Jail] decides whether a path is inside the I/O root. Relative paths are
// taken relative to the root, symlinks are resolved, and the directory
// holding the target must exist ([ErrDirNotExist]). Anything else outside
// the root fails with [ErrOutsideJail].
package sandbox
