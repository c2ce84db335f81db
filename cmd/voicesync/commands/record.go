package commands

import (
	"context"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/channel-io/go-voicesync/pkg/drift"
	"github.com/channel-io/go-voicesync/pkg/ingest"
	"github.com/channel-io/go-voicesync/pkg/session"
	"github.com/channel-io/go-voicesync/pkg/store"
)

var (
	recordListen  string
	recordDataDir string
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Run the ingest server and record sessions",
	Long: `Run the websocket ingest server.

Sessions are started with POST /sessions and stopped with DELETE
/sessions/{id}. Each participant streams binary RTP packets over
GET /sessions/{id}/stream?participant=ID. On shutdown every live session
is stopped and its tracks are finalized.`,
	RunE: runRecord,
}

func init() {
	recordCmd.Flags().StringVar(&recordListen, "listen", "", "listen address, overrides the config file")
	recordCmd.Flags().StringVar(&recordDataDir, "data-dir", "", "recordings directory, overrides the config file")
}

func runRecord(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if recordListen != "" {
		cfg.Listen = recordListen
	}
	if recordDataDir != "" {
		cfg.DataDir = recordDataDir
	}

	index, err := store.OpenIndex(store.IndexOptions{Dir: cfg.IndexPath()})
	if err != nil {
		return err
	}
	defer index.Close()

	opts := cfg.SessionOptions()
	opts.OnDrift = func(userID string, info drift.Info) {
		logrus.WithFields(logrus.Fields{
			"user_id":  userID,
			"drift_ms": info.DriftMs,
			"factor":   drift.StretchFactor(info.DriftMs),
		}).Info("Track will be corrected when the session stops")
	}
	registry := session.NewRegistry(cfg.DataDir, index, opts)
	server := ingest.NewServer(registry)

	l, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- server.Serve(l) }()

	select {
	case err = <-errc:
	case <-ctx.Done():
	}

	logrus.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if serr := server.Shutdown(shutdownCtx); serr != nil && err == nil {
		err = serr
	}
	registry.StopAll(shutdownCtx)
	return err
}
