package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/phroun/cellrope"
	"github.com/phroun/cellrope/internal/config"
	"github.com/phroun/cellrope/transport"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket relay with a /metrics endpoint",
		Long: `serve relays structural changes between every replica connected to
/matrices/{id} and journals them to the configured store, so replicas that
connect later with ?since=<journal position> catch up.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen == "" {
				listen = a.cfg.Relay.Listen
			}
			store, err := config.OpenStore(a.cfg.Store, a.logger)
			if err != nil {
				return err
			}
			defer store.Close()

			journal, _ := store.(cellrope.OpLog)
			relay := transport.NewRelay(transport.RelayOptions{
				Log:        journal,
				Logger:     a.logger,
				SendBuffer: a.cfg.Relay.SendBuffer,
			})
			srv := &http.Server{
				Addr:              listen,
				Handler:           newServeMux(relay),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("relay listening", "addr", listen, "store", a.cfg.Store.Driver)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			a.logger.Info("relay shutting down")
			relay.Close()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address to listen on (default relay.listen)")
	return cmd
}

func newServeMux(relay *transport.Relay) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/matrices/", relay.Handler())
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	return mux
}
