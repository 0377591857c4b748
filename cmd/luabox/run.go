package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/caffeineduck/luabox/tool"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Run a Lua chunk once",
	Long: `Execute Lua code in a fresh sandboxed interpreter.

Code can be provided via:
  - File argument: luabox run script.lua
  - Inline flag: luabox run -c 'return 1 + 1'
  - Stdin: echo 'return 1 + 1' | luabox run

Each print call is written as a JSON array on its own line, followed by the
JSON array of returned values.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("code", "c", "", "Code to execute")
}

func runRun(cmd *cobra.Command, args []string) error {
	code, _ := cmd.Flags().GetString("code")
	source, err := readSource(cmd.InOrStdin(), code, args)
	if err != nil {
		return err
	}
	if source == "" {
		return cmd.Help()
	}

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	pool, err := newPool(cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	svc := tool.NewService(pool, tool.WithLogger(logger))
	return evalAndPrint(cmd.Context(), svc, "", source, cmd.OutOrStdout())
}

// evalAndPrint runs source in the given session and streams print output
// and the final result to w. A failed run is still printed and then
// returned as an error.
func evalAndPrint(ctx context.Context, svc *tool.Service, session, source string, w io.Writer) error {
	printer := tool.NotifierFunc(func(_ context.Context, kind string, data map[string]any) {
		if kind == tool.EventPrint {
			fmt.Fprintln(w, data["args"])
		}
	})

	out := svc.Eval(ctx, tool.EvalInput{SessionID: session, Code: source}, printer)
	fmt.Fprintln(w, out.Result)
	if out.Error != "" {
		return errors.New(out.Error)
	}
	return nil
}

// readSource picks the code from -c, a file argument or piped stdin, in
// that order. An interactive stdin yields "".
func readSource(stdin io.Reader, code string, args []string) (string, error) {
	switch {
	case code != "":
		return code, nil
	case len(args) > 0:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	if f, ok := stdin.(*os.File); ok {
		stat, err := f.Stat()
		if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
			return "", nil
		}
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}
