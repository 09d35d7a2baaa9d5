package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BioHazard786/meshroom/internal/config"
	"github.com/BioHazard786/meshroom/internal/logging"
	"github.com/BioHazard786/meshroom/internal/relay"
	"github.com/BioHazard786/meshroom/internal/ui"
	"github.com/spf13/cobra"
)

var (
	flagListen   string
	flagMaxPeers int
)

const shutdownTimeout = 5 * time.Second

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run a signaling relay",
	Long: `Run the relay that peers use to exchange offers, answers and ICE candidates.

The relay serves the websocket at /ws, the room registry at /v1/rooms and a
health check at /health. It never sees chat traffic.

Examples:
  meshroom relay
  meshroom relay --listen :9000 --max-peers 4
  RELAY_ADDR=:9000 meshroom relay`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRelay(cmd.Context())
	},
}

func runRelay(ctx context.Context) error {
	logger := logging.Init(nil, slog.LevelInfo)

	if flagMaxPeers < 2 {
		return fmt.Errorf("--max-peers must be at least 2, got %d", flagMaxPeers)
	}

	hub := relay.NewHub(relay.HubOptions{
		DefaultMaxPeers: flagMaxPeers,
		Logger:          logger,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              config.ListenAddr(flagListen),
		Handler:           relay.NewRouter(hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	fmt.Println(ui.RelayBanner(srv.Addr, flagMaxPeers))

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("relay listening", "addr", srv.Addr, "max_peers", flagMaxPeers)
		serveErr <- srv.ListenAndServe()
	}()

	var err error
	select {
	case err = <-serveErr:
	case <-ctx.Done():
		logger.Info("shutting down relay")
		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		err = srv.Shutdown(shutdownCtx)
	}

	cancel()
	<-hubDone

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func init() {
	rootCmd.AddCommand(relayCmd)

	relayCmd.Flags().StringVarP(&flagListen, "listen", "l", "", "Listen address (default "+config.DefaultRelayAddr+")")
	relayCmd.Flags().IntVarP(&flagMaxPeers, "max-peers", "m", relay.DefaultMaxPeers, "Default room capacity")
}
