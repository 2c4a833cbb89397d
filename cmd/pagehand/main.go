// File: cmd/pagehand/main.go
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/xkilldash9x/pagehand/cmd"
	"github.com/xkilldash9x/pagehand/internal/observability"
)

const panicLogFile = "panic.log"

const banner = `
 pagehand %s
 selectors first, the model when they fail.
 type a command (e.g. "observe --url https://example.com"), or "exit".

`

// Function variables for mocking in tests.
var (
	osWriteFile = os.WriteFile
	osExit      = os.Exit
)

func main() {
	defer handlePanic()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(os.Args) > 1 {
		if err := cmd.Execute(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				osExit(0)
			} else {
				fmt.Fprintln(os.Stderr, "Error:", err)
				osExit(1)
			}
		}
		return
	}

	if err := runShell(ctx, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "Error reading from stdin:", err)
		osExit(1)
	}
}

// runShell reads commands from in until EOF, "exit" or "quit".
func runShell(ctx context.Context, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, banner, cmd.Version)
	scanner := bufio.NewScanner(in)

	for {
		fmt.Fprint(out, "pagehand > ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		executeInteractiveCommand(ctx, line, out)
	}

	fmt.Fprintln(out, "Exiting pagehand.")
	return scanner.Err()
}

// executeInteractiveCommand runs one shell line on a fresh command tree.
func executeInteractiveCommand(ctx context.Context, line string, out io.Writer) {
	rootCmd := cmd.NewRootCommand()
	rootCmd.SetArgs(strings.Fields(line))
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)

	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(out, "Error: command panicked: %v\n", r)
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(out, "Error:", err)
	}
}

// handlePanic flushes the logs and writes the panic and its stack to panicLogFile.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()

	panicMessage := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	if err := osWriteFile(panicLogFile, []byte(panicMessage), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: Failed to write panic log: %v\n", err)
		fmt.Fprintf(os.Stderr, "Panic details:\n%s\n", panicMessage)
		osExit(2)
		return
	}

	fmt.Fprintf(os.Stderr, "\npagehand crashed. Details logged to %s\n", panicLogFile)
	osExit(2)
}
