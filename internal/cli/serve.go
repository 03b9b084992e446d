package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tOgg1/backlot/internal/db"
	"github.com/tOgg1/backlot/internal/events"
	"github.com/tOgg1/backlot/internal/realtime/ws"
)

var (
	serveAddr    string
	serveOrigins []string
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8787", "listen address")
	serveCmd.Flags().StringSliceVar(&serveOrigins, "origin", nil, "extra allowed websocket origin patterns")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve inbox invalidation events over websocket",
	Long: `Run a websocket endpoint at /ws that pushes project_new_update, new_update
and new_message events to connected inboxes. Events written by other backlot
commands are picked up from the event log.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer database.Close()

		logger := cmdLogger("serve")
		hub := events.NewHub(events.WithLogger(cmdLogger("hub")))
		defer hub.Close()

		mux := newServeMux(hub, logger, serveOrigins...)
		srv := &http.Server{
			Addr:              serveAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		relay := newRelayStreamer(db.NewEventRepository(database), hub, DefaultStreamConfig())

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			logger.Info().Str("addr", serveAddr).Str("db", database.Path()).Msg("listening")
			printf(cmd.OutOrStdout(), "Listening on ws://%s/ws\n", serveAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			return relay.Stream(gctx)
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			logger.Info().Msg("shutting down")
			return srv.Shutdown(shutdownCtx)
		})
		return g.Wait()
	},
}

type healthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

func newServeMux(hub *events.Hub, logger zerolog.Logger, origins ...string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/ws", ws.NewHandler(hub,
		ws.WithHandlerLogger(logger.With().Str("component", "ws").Logger()),
		ws.WithOriginPatterns(origins...),
	))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(healthResponse{Status: "ok", Clients: hub.ClientCount()})
	})
	return mux
}
