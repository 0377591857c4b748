package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/caffeineduck/luabox/executor"
	"github.com/caffeineduck/luabox/internal/config"
	"github.com/caffeineduck/luabox/marshal"
	"github.com/caffeineduck/luabox/sandbox"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "luabox [file]",
	Short: "Sandboxed Lua 5.1 script runner",
	Long: `luabox - Run untrusted Lua scripts in a restricted interpreter.

Run code from files, inline strings, or stdin. By default, scripts have no
access to process execution, the filesystem, or native modules. Enable
capabilities explicitly with flags, a config file (--config), or LUABOX_*
environment variables.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRun, // Default to run command behavior
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// sandboxFlags maps capability flags to their sandbox.Config fields.
var sandboxFlags = []struct {
	name  string
	usage string
	field func(*sandbox.Config) *bool
}{
	{"allow-native-modules", "Set package.cpath for native modules", func(c *sandbox.Config) *bool { return &c.AllowNativeModules }},
	{"allow-loadlib", "Keep package.loadlib", func(c *sandbox.Config) *bool { return &c.AllowLoadlib }},
	{"unjail-io", "Allow file access anywhere", func(c *sandbox.Config) *bool { return &c.UnjailIO }},
	{"allow-jail-io", "Allow file access inside --io-dir", func(c *sandbox.Config) *bool { return &c.AllowJailIO }},
	{"allow-process-exec", "Keep os.execute, io.popen and os.setenv", func(c *sandbox.Config) *bool { return &c.AllowProcessExec }},
	{"open-debug-lib", "Open the debug library (defeats the sandbox)", func(c *sandbox.Config) *bool { return &c.OpenDebugLib }},
}

func init() {
	// Persistent flags override the config file and environment when set
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "YAML config file")
	pf.Duration("timeout", executor.DefaultTimeout, "Execution timeout (0 disables)")
	pf.Int("max-depth", marshal.DefaultMaxDepth, "Max table nesting converted from Lua")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	for _, f := range sandboxFlags {
		pf.Bool(f.name, false, f.usage)
	}
	pf.String("io-dir", sandbox.DefaultIODir, "Jail directory for file access")

	// Add run-specific flags to root (for default command)
	addRunFlags(rootCmd)
}

// loadConfig resolves the effective configuration and builds the stderr
// logger. Flags only override the loaded values when set on the command
// line.
func loadConfig(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	flags := cmd.Flags()
	configFile, _ := flags.GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return config.Config{}, nil, err
	}

	if flags.Changed("timeout") {
		cfg.Timeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("max-depth") {
		cfg.MaxDepth, _ = flags.GetInt("max-depth")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	for _, f := range sandboxFlags {
		if flags.Changed(f.name) {
			*f.field(&cfg.Sandbox), _ = flags.GetBool(f.name)
		}
	}
	if flags.Changed("io-dir") {
		cfg.Sandbox.IODir, _ = flags.GetString("io-dir")
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, err
	}
	level, _ := cfg.Level()
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return cfg, logger, nil
}

// newPool creates the jail directory when jailed I/O is on and returns a
// session pool configured from cfg.
func newPool(cfg config.Config, logger *slog.Logger) (*executor.Pool, error) {
	if err := prepareIODir(cfg.Sandbox); err != nil {
		return nil, err
	}
	return executor.NewPool(cfg.Sandbox, cfg.EngineOptions(logger)...), nil
}

func prepareIODir(cfg sandbox.Config) error {
	if !cfg.AllowJailIO || cfg.UnjailIO {
		return nil
	}
	if err := os.MkdirAll(cfg.IODir, 0o755); err != nil {
		return fmt.Errorf("create io dir: %w", err)
	}
	return nil
}
