package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/oppdash/oppdash/internal/client"
	"github.com/oppdash/oppdash/internal/config"
	"github.com/oppdash/oppdash/internal/history"
	"github.com/oppdash/oppdash/internal/safetygate"
)

// app holds what every subcommand needs once config is loaded.
type app struct {
	cfg      *config.ClientConfig
	api      *client.Client
	logger   zerolog.Logger
	prompter *safetygate.TerminalPrompter
	out      io.Writer
}

func (a *app) gate() *safetygate.Gate {
	return safetygate.New(a.api, a.api, a.prompter, a.logger)
}

func (a *app) openHistory(ctx context.Context) (*history.Store, error) {
	return history.Open(ctx, a.cfg.HistoryPath, a.cfg.HistoryCapacity)
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

func main() {
	a := &app{out: os.Stdout}
	var verbose bool

	rootCmd := &cobra.Command{
		Use:           "oppdash",
		Short:         "Fax prescribers about therapeutic-interchange opportunities",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := zerolog.InfoLevel
			if verbose {
				level = zerolog.DebugLevel
			}
			a.logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

			cfg, err := config.LoadClient()
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.api = client.New(cfg.APIURL, cfg.APIToken, cfg.Pharmacy)
			a.prompter = &safetygate.TerminalPrompter{In: os.Stdin, Out: os.Stdout}
			return nil
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging on stderr")

	rootCmd.AddCommand(faxCmd(a))
	rootCmd.AddCommand(statusCmd(a))
	rootCmd.AddCommand(notesCmd(a))
	rootCmd.AddCommand(historyCmd(a))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
