// cellrope is the command line front end for sparse matrices: an interactive
// REPL, a websocket relay server, a snapshot dumper and a benchmark.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/phroun/cellrope"
	"github.com/phroun/cellrope/internal/config"
	"github.com/phroun/cellrope/transport"
)

// app is the state shared by every subcommand once flags are parsed.
type app struct {
	configPath string

	cfg    config.Config
	logger *slog.Logger
}

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "cellrope",
		Short: "Collaborative sparse matrices on a segment chain",
		Long: `cellrope stores sparse two-dimensional grids as chains of run and
padding segments, persists them to a snapshot store and relays structural
changes between replicas over websockets.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			logger, err := config.NewLogger(cfg.Log, errOut)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logger
			slog.SetDefault(logger)
			return nil
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(
		newReplCmd(a),
		newServeCmd(a),
		newDumpCmd(a),
		newBenchCmd(a),
	)
	return root
}

// openLibrary opens the configured store and builds a library around it.
// Matrices attach through the relay when one is configured, otherwise
// straight to the store's journal.
func (a *app) openLibrary(ctx context.Context) (*cellrope.Library, error) {
	store, err := config.OpenStore(a.cfg.Store, a.logger)
	if err != nil {
		return nil, err
	}

	var submitters cellrope.SubmitterFactory
	switch log, ok := store.(cellrope.OpLog); {
	case a.cfg.Relay.URL != "":
		submitters = transport.Submitters(ctx, a.cfg.Relay.URL, transport.ClientOptions{Logger: a.logger})
	case ok:
		submitters = func(m *cellrope.Matrix) (cellrope.Submitter, error) {
			return cellrope.JournalSubmitter{Log: log, ID: m.ID()}, nil
		}
	}

	lib, err := cellrope.Init(cellrope.LibraryOptions{
		Logger:              a.logger,
		Store:               store,
		ClientID:            a.cfg.ClientID,
		Submitters:          submitters,
		MaintenanceInterval: a.cfg.Maintenance.Interval,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init library: %w", err)
	}
	return lib, nil
}
