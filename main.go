package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	tea "charm.land/bubbletea/v2"
	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/go-authgate/copilot-auth/internal/autherr"
	"github.com/go-authgate/copilot-auth/tui"
)

func main() {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags flagValues

	root := &cobra.Command{
		Use:   "copilot-auth",
		Short: "Sign in to GitHub Copilot and manage the stored credential",
		Long: `copilot-auth signs in to GitHub Copilot with the OAuth device flow (or a token
you already have), stores the GitHub credential in the system keychain or an
encrypted file, and exchanges it for short-lived Copilot API tokens on demand.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.host, "host", "", "GitHub host, for GitHub Enterprise (default: github.com or COPILOT_AUTH_HOST env)")
	pf.StringVar(&flags.clientID, "client-id", "", "OAuth client ID (default: Copilot client or COPILOT_AUTH_CLIENT_ID env)")
	pf.StringVar(&flags.dir, "dir", "", "credential directory (default: ~/.copilot-auth or COPILOT_AUTH_DIR env)")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")
	pf.BoolVar(&flags.logJSON, "log-json", false, "write logs as JSON")

	// setup resolves configuration and wires the components for a subcommand.
	setup := func() (*app, error) {
		cfg, err := loadConfig(flags)
		if err != nil {
			return nil, autherr.Wrap(autherr.KindValidation, "config", "invalid configuration", err)
		}
		return newApp(cfg, newLogger(cfg))
	}

	root.AddCommand(
		newLoginCmd(setup),
		newTokenCmd(setup),
		newLogoutCmd(setup),
		newStatusCmd(setup),
	)
	return root
}

// isTTY reports whether f is an interactive terminal.
func isTTY(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// withDisplayer runs fn with a TUI on stderr when it is a terminal, plain text otherwise.
func withDisplayer(fn func(d tui.Displayer) error) error {
	if !isTTY(os.Stderr) {
		d := tui.NewPlainDisplayer(os.Stderr)
		d.Banner()
		if err := fn(d); err != nil {
			return silentError{err}
		}
		return nil
	}

	// Run TUI program on stderr so stdout pipes are not corrupted.
	// WithInput(nil): disable stdin/keyboard input so BubbleTea skips terminal
	// capability queries (?2026/?2027). Ctrl+C is handled by signal.NotifyContext.
	p := tea.NewProgram(tui.NewModel(), tea.WithOutput(os.Stderr), tea.WithInput(nil))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := p.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		}
	}()

	d := tui.NewProgramDisplayer(p)
	d.Banner()
	runErr := fn(d)
	p.Quit() // let BubbleTea drain terminal query responses before exiting
	wg.Wait()
	if runErr != nil {
		return silentError{runErr}
	}
	return nil
}

// silentError marks an error the displayer has already shown to the user.
type silentError struct{ err error }

func (s silentError) Error() string { return s.err.Error() }
func (s silentError) Unwrap() error { return s.err }

// printError writes err and its recovery hint, if any.
func printError(w io.Writer, err error) {
	var silent silentError
	if errors.As(err, &silent) {
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
	if hint := autherr.HintOf(err); hint != "" {
		fmt.Fprintf(w, "Hint: %s\n", hint)
	}
}
