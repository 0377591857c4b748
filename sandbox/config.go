package sandbox

// Config holds the capability flags of a sandboxed state. It is copied into
// a Policy when the policy is built; changing capabilities means building a
// new policy and a new state.
type Config struct {
	// AllowNativeModules sets package.cpath to DefaultNativePath instead of "".
	AllowNativeModules bool `yaml:"allow_native_modules" envconfig:"ALLOW_NATIVE_MODULES"`
	// AllowLoadlib keeps package.loadlib instead of a denying stub.
	AllowLoadlib bool `yaml:"allow_loadlib" envconfig:"ALLOW_LOADLIB"`
	// UnjailIO leaves io and os file functions unrestricted.
	UnjailIO bool `yaml:"unjail_io" envconfig:"UNJAIL_IO"`
	// AllowJailIO permits file functions for paths inside IODir.
	AllowJailIO bool `yaml:"allow_jail_io" envconfig:"ALLOW_JAIL_IO"`
	// AllowProcessExec keeps os.execute, io.popen and os.setenv.
	AllowProcessExec bool `yaml:"allow_process_exec" envconfig:"ALLOW_PROCESS_EXEC"`
	// OpenDebugLib opens the debug library. It can defeat every other
	// restriction, so it is never on by default.
	OpenDebugLib bool `yaml:"open_debug_lib" envconfig:"OPEN_DEBUG_LIB"`
	// IODir is the jail root, relative to the working directory at startup.
	IODir string `yaml:"io_dir" envconfig:"IO_DIR"`
}

// DefaultIODir is the jail root used when Config.IODir is empty.
const DefaultIODir = "io_dir"

// DefaultModulePath is the fixed package.path; patterns are relative to the
// process working directory.
const DefaultModulePath = "./?.lua;./?/init.lua;./lib/?.lua;./lib/?/init.lua"

// DefaultNativePath is package.cpath when native modules are allowed.
// gopher-lua itself never loads native code; the value only documents
// intent to scripts probing package.cpath.
const DefaultNativePath = "./?.so;./lib/?.so"

// DefaultConfig returns the most restrictive configuration.
func DefaultConfig() Config {
	return Config{IODir: DefaultIODir}
}
