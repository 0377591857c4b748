package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/caffeineduck/luabox/tool"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

const replSession = "repl"

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive REPL with persistent state",
	Long: `Start an interactive REPL (Read-Eval-Print Loop) session.

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)
  - Multi-line input (end line with \)
  - :globals lists user globals, :globals all includes the standard ones

Globals persist between lines. Type 'exit' or 'quit' to end the session,
or press Ctrl+D.`,
	Args: cobra.NoArgs,
	RunE: runRepl,
}

func init() {
	replCmd.Flags().String("history", "", "History file path (default: ~/.luabox_history)")
	rootCmd.AddCommand(replCmd)
}

func runRepl(cmd *cobra.Command, _ []string) error {
	historyFile, _ := cmd.Flags().GetString("history")

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	pool, err := newPool(cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".luabox_history")
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            ">>> ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintln(rl.Stderr(), "luabox Lua 5.1 REPL (type 'exit' to quit, Ctrl+D to exit)")

	r := &repl{
		svc:    tool.NewService(pool, tool.WithLogger(logger)),
		lines:  rl,
		out:    rl.Stdout(),
		errOut: rl.Stderr(),
	}
	return r.loop(cmd.Context())
}

type lineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
}

type repl struct {
	svc    *tool.Service
	lines  lineReader
	out    io.Writer
	errOut io.Writer
}

func (r *repl) loop(ctx context.Context) error {
	var multiLine strings.Builder
	inMultiLine := false

	for {
		line, err := r.lines.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				if inMultiLine {
					multiLine.Reset()
					inMultiLine = false
					r.lines.SetPrompt(">>> ")
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out)
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}

		if strings.HasSuffix(line, "\\") {
			multiLine.WriteString(strings.TrimSuffix(line, "\\"))
			multiLine.WriteString("\n")
			inMultiLine = true
			r.lines.SetPrompt("... ")
			continue
		}

		if inMultiLine {
			multiLine.WriteString(line)
			line = multiLine.String()
			multiLine.Reset()
			inMultiLine = false
			r.lines.SetPrompt(">>> ")
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == "exit" || line == "quit":
			return nil
		case strings.HasPrefix(line, ":globals"):
			r.globals(ctx, strings.TrimSpace(strings.TrimPrefix(line, ":globals")) == "all")
			continue
		}

		if err := evalAndPrint(ctx, r.svc, replSession, line, r.out); err != nil {
			fmt.Fprintf(r.errOut, "Error: %v\n", err)
		}
	}
}

func (r *repl) globals(ctx context.Context, all bool) {
	out, err := r.svc.ListGlobals(ctx, tool.ListGlobalsInput{SessionID: replSession, NoFilter: all})
	if err != nil {
		fmt.Fprintf(r.errOut, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(r.out, strings.Join(out.Globals, " "))
}
