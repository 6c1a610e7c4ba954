// fieldsyncd is the device-side synchronization daemon. It owns the durable
// record store and the sync queue, pushes queued mutations to the central
// licensing service whenever the network allows, and serves the examiner app
// over a localhost REST/WebSocket API.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/itadriver/fieldsync/cmd/fieldsyncd/handlers"
	"github.com/itadriver/fieldsync/internal/db"
	"github.com/itadriver/fieldsync/internal/logging"
	"github.com/itadriver/fieldsync/internal/store"
	boltstore "github.com/itadriver/fieldsync/internal/store/bolt"
	sqlitestore "github.com/itadriver/fieldsync/internal/store/sqlite"
	syncengine "github.com/itadriver/fieldsync/internal/sync"
	"github.com/itadriver/fieldsync/internal/sync/connectivity"
	"github.com/itadriver/fieldsync/internal/sync/queue"
	"github.com/itadriver/fieldsync/internal/sync/remote"
)

type serveConfig struct {
	dataDir      string
	listen       string
	remoteURL    string
	apiKey       string
	storeBackend string
	syncInterval time.Duration
	debug        bool
}

func main() {
	cfg := serveConfig{}

	root := &cobra.Command{
		Use:   "fieldsyncd",
		Short: "Offline-first synchronization daemon for examiner field devices",
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cfg)
		},
	}
	serve.Flags().StringVar(&cfg.dataDir, "data-dir", envOr("FIELDSYNC_DATA_DIR", "./data"), "directory for the device database")
	serve.Flags().StringVar(&cfg.listen, "listen", envOr("FIELDSYNC_LISTEN", "127.0.0.1:8095"), "local API listen address")
	serve.Flags().StringVar(&cfg.remoteURL, "remote", envOr("FIELDSYNC_REMOTE", "http://localhost:8096"), "central service base URL")
	serve.Flags().StringVar(&cfg.apiKey, "api-key", os.Getenv("FIELDSYNC_API_KEY"), "bearer token for the central service")
	serve.Flags().StringVar(&cfg.storeBackend, "store", envOr("FIELDSYNC_STORE", "sqlite"), "record store backend: sqlite or bolt")
	serve.Flags().DurationVar(&cfg.syncInterval, "sync-interval", 30*time.Second, "probe and sync interval while online")
	serve.Flags().BoolVar(&cfg.debug, "debug", false, "enable debug logging")

	root.AddCommand(serve)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func runServe(cfg serveConfig) error {
	level := logging.LevelInfo
	if cfg.debug {
		level = logging.LevelDebug
	}
	logging.Init(os.Stdout, level)
	logger := logging.Get()

	database, err := db.Open(cfg.dataDir)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.InitSchema(); err != nil {
		return err
	}

	// The queue always lives in sqlite; the record store is selectable. With
	// the sqlite store both share transactions, so a write and its queue
	// entry commit atomically.
	var recordStore store.Store
	var tx syncengine.TxRunner
	switch cfg.storeBackend {
	case "sqlite":
		recordStore = sqlitestore.New(database)
		tx = database
	case "bolt":
		recordStore, err = boltstore.Open(filepath.Join(cfg.dataDir, "records.db"))
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown store backend %q", cfg.storeBackend)
	}
	defer recordStore.Close()

	client := remote.NewHTTPClient(remote.HTTPConfig{
		BaseURL: cfg.remoteURL,
		APIKey:  cfg.apiKey,
	})

	var engine *syncengine.Engine
	monitor := connectivity.NewMonitor(client, connectivity.Config{
		ProbeInterval: cfg.syncInterval,
	}, logger, func(online bool) {
		if online && engine != nil {
			engine.TriggerSync()
		}
	})

	engine = syncengine.New(syncengine.Options{
		Store:  recordStore,
		Queue:  queue.NewSQLite(database, queue.DefaultConfig(), nil),
		Remote: client,
		Tx:     tx,
		Online: monitor.Online,
		Logger: logger,
	})

	hub := NewWSHub()
	engine.AddSink(hub)

	monitor.Start()
	defer monitor.Stop()

	// Periodic pass while online; the engine coalesces overlapping triggers.
	tickerStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cfg.syncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-tickerStop:
				return
			case <-ticker.C:
				if monitor.Online() {
					engine.TriggerSync()
				}
			}
		}
	}()
	defer close(tickerStop)

	router := mux.NewRouter()
	handlers.NewRecordsHandler(engine).Register(router)
	handlers.NewSyncHandler(engine).Register(router)
	router.HandleFunc("/api/health", handlers.Health(monitor.Online)).Methods(http.MethodGet)
	router.HandleFunc("/ws", HandleWebSocket(hub))

	srv := &http.Server{
		Addr:    cfg.listen,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("fieldsyncd listening", map[string]interface{}{
			"addr":   cfg.listen,
			"remote": cfg.remoteURL,
			"store":  cfg.storeBackend,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("Shutting down", map[string]interface{}{"signal": sig.String()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
