package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/go-authgate/copilot-auth/internal/autherr"
	"github.com/go-authgate/copilot-auth/internal/log"
	"github.com/go-authgate/copilot-auth/internal/status"
	"github.com/go-authgate/copilot-auth/internal/validator"
	"github.com/go-authgate/copilot-auth/tui"
)

func newTokenCmd(setup func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "token [value]",
		Short: "Store a GitHub token obtained elsewhere",
		Long: `Validate a GitHub token against the API and store it. The token must carry the
copilot scope. Without an argument the token is read from the terminal (hidden)
or from stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw string
			if len(args) == 1 {
				raw = args[0]
			} else {
				var err error
				if raw, err = readToken(cmd.InOrStdin(), cmd.ErrOrStderr()); err != nil {
					return err
				}
			}

			a, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = a.logger.Sync() }()
			return runToken(cmd.Context(), a, cmd.ErrOrStderr(), raw)
		},
	}
}

func runToken(ctx context.Context, a *app, w io.Writer, raw string) error {
	v := validator.New(a.httpClient, a.domain, a.vault, a.logger)
	res := v.Validate(ctx, raw)
	if !res.Success() {
		return res.Err
	}
	a.broker.Invalidate()

	if len(res.MissingRecommended) > 0 {
		tui.NewPlainDisplayer(w).ScopeWarning(res.MissingRecommended)
	}
	fmt.Fprintf(w, "Token for %s stored in %s (%s)\n", res.Account, a.vault.Backend(), log.MaskToken(strings.TrimSpace(raw)))
	return nil
}

// readToken prompts on a terminal with echo disabled, otherwise reads one line.
func readToken(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "GitHub token: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("failed to read token: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", autherr.New(autherr.KindValidation, "token", "no token supplied").
			WithHint("pass the token as an argument or pipe it on stdin")
	}
	return line, nil
}

func newLogoutCmd(setup func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = a.logger.Sync() }()
			return runLogout(a, cmd.ErrOrStderr())
		},
	}
}

func runLogout(a *app, w io.Writer) error {
	md, err := a.vault.Metadata()
	if err != nil {
		a.logger.Debug("could not read credential metadata", zap.Error(err))
	}
	if err := a.vault.Delete(); err != nil {
		return err
	}
	a.broker.Invalidate()

	if md != nil && md.AccountID != "" {
		fmt.Fprintf(w, "Logged out %s from %s\n", md.AccountID, a.domain.Host)
	} else {
		fmt.Fprintf(w, "Logged out from %s\n", a.domain.Host)
	}
	return nil
}

func newStatusCmd(setup func() (*app, error)) *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether you are logged in",
		Long: `Show the stored login. By default the credential is checked against GitHub with a
live Copilot token exchange. With --offline only the local record is read and the
result says nothing about whether GitHub still accepts it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = a.logger.Sync() }()

			mode := status.ModeStrict
			if offline {
				mode = status.ModeOptimistic
			}
			return runStatus(cmd.Context(), a, cmd.OutOrStdout(), mode)
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "only read the local record, no network call")
	return cmd
}

func runStatus(ctx context.Context, a *app, w io.Writer, mode status.Mode) error {
	var st *status.Status
	if mode == status.ModeStrict {
		st = a.status.Strict(ctx)
	} else {
		st = a.status.Optimistic()
	}

	fmt.Fprintln(w, a.domain.Host)
	if st.Account != "" {
		fmt.Fprintf(w, "  Account:  %s\n", st.Account)
	}
	if st.Backend != "" {
		fmt.Fprintf(w, "  Storage:  %s\n", st.Backend)
	}
	if !st.CreatedAt.IsZero() {
		fmt.Fprintf(w, "  Since:    %s\n", st.CreatedAt.Local().Format(time.RFC1123))
	}
	if st.CredentialExpiresAt != nil {
		fmt.Fprintf(w, "  Expires:  %s\n", st.CredentialExpiresAt.Local().Format(time.RFC1123))
	}

	switch {
	case st.Authenticated():
		fmt.Fprintf(w, "  Status:   logged in (Copilot token valid until %s)\n",
			st.TokenExpiresAt.Local().Format(time.Kitchen))
		return nil
	case mode == status.ModeOptimistic && st.HasCredential:
		fmt.Fprintln(w, "  Status:   credential stored (not verified)")
		return nil
	case st.Err != nil:
		fmt.Fprintln(w, "  Status:   not authenticated")
		return st.Err
	default:
		fmt.Fprintln(w, "  Status:   not logged in")
		return autherr.New(autherr.KindCredential, "status", "not logged in").
			WithHint("run `copilot-auth login`")
	}
}
