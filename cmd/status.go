package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"oidcflow/internal/statestore"
	"oidcflow/pkg/auth"
	pkgstrings "oidcflow/pkg/strings"
)

// Status-specific flags
var (
	statusOutput string
	statusWatch  bool
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status [provider]",
	Short: "Show the sessions of all providers",
	Long: `Show the stored session of every configured provider.

Nothing is refreshed; the status reflects what is stored. A session is
"expired" when its access token needs a refresh and "invalidated" when
the provider rejected it and you have to log in again.

Examples:
  oidcflow status                  # All providers
  oidcflow status corp -o json     # One provider as JSON
  oidcflow status --watch          # Print again whenever a session changes`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", outputTable, "Output format (table, json, yaml)")
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "Keep running and print the status whenever a session changes")

	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}

	show := func(ctx context.Context) error {
		resp, err := statusFor(ctx, a, args)
		if err != nil {
			return err
		}
		return renderStatus(cmd.OutOrStdout(), statusOutput, resp)
	}

	if err := show(cmd.Context()); err != nil {
		return err
	}
	if !statusWatch {
		return nil
	}

	fileStore, ok := a.store.(*statestore.FileStore)
	if !ok {
		return errors.New("--watch is only supported with the file storage backend")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	changes := make(chan statestore.ChangeEvent, 1)
	err = fileStore.Watch(ctx, func(event statestore.ChangeEvent) {
		select {
		case changes <- event:
		default:
		}
	})
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-changes:
			fmt.Fprintf(cmd.OutOrStdout(), "\n%s session %s %s\n",
				event.Timestamp.Local().Format(time.TimeOnly), event.Key, event.Operation)
			if err := show(ctx); err != nil {
				return err
			}
		}
	}
}

func statusFor(ctx context.Context, a *appContext, args []string) (auth.StatusResponse, error) {
	if len(args) == 0 {
		return a.manager.Status(ctx)
	}
	return auth.StatusResponse{Sessions: []auth.SessionStatus{a.manager.SessionStatus(ctx, args[0])}}, nil
}

// renderStatus writes resp in the given format.
func renderStatus(w io.Writer, format string, resp auth.StatusResponse) error {
	if format != outputTable {
		return writeStructured(w, format, resp)
	}

	if len(resp.Sessions) == 0 {
		fmt.Fprintf(w, "%s\n", text.FgYellow.Sprint("No providers configured"))
		return nil
	}

	t := newTable(w)
	t.AppendHeader(header("PROVIDER", "STATUS", "SUBJECT", "EXPIRES", "ISSUER"))
	for _, s := range resp.Sessions {
		subject := s.Email
		if subject == "" {
			subject = s.Subject
		}
		t.AppendRow(table.Row{
			text.FgHiCyan.Sprint(s.Provider),
			colorStatus(s.Status),
			pkgstrings.Truncate(subject, 32),
			formatExpiry(s.AccessTokenExpiry),
			pkgstrings.Truncate(s.Issuer, pkgstrings.DefaultMaxLen),
		})
		if s.Error != "" {
			t.AppendRow(table.Row{"", text.FgRed.Sprint(pkgstrings.Truncate(s.Error, pkgstrings.DefaultMaxLen))})
		}
	}
	t.Render()
	return nil
}

func colorStatus(status string) string {
	switch status {
	case auth.StatusAuthorized:
		return text.FgGreen.Sprint(status)
	case auth.StatusExpired:
		return text.FgYellow.Sprint(status)
	case auth.StatusInvalidated, auth.StatusUnreadable:
		return text.FgRed.Sprint(status)
	default:
		return text.FgHiBlack.Sprint(status)
	}
}

func formatExpiry(expiry *time.Time) string {
	if expiry == nil {
		return "-"
	}
	remaining := time.Until(*expiry).Round(time.Second)
	if remaining <= 0 {
		return fmt.Sprintf("%s ago", (-remaining).String())
	}
	return fmt.Sprintf("in %s", remaining.String())
}
