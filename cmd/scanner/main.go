package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/yegors/atc-scanner/internal/api"
	"github.com/yegors/atc-scanner/internal/broker"
	"github.com/yegors/atc-scanner/internal/config"
	"github.com/yegors/atc-scanner/internal/scanner"
	"github.com/yegors/atc-scanner/internal/storage/sqlite"
	"github.com/yegors/atc-scanner/internal/websocket"
	"github.com/yegors/atc-scanner/pkg/logger"
	"golang.org/x/net/netutil"
)

const shutdownTimeout = 5 * time.Second

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}

	boot, err := logger.New(logger.Config{Level: "info", Format: "console"})
	if err != nil {
		os.Exit(1)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		boot.Fatal("Failed to load configuration",
			logger.String("path", opts.configPath),
			logger.Error(err))
	}

	log, err := logger.New(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		boot.Fatal("Failed to create logger", logger.Error(err))
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, err := scanner.NewServiceFromConfig(cfg, log)
	if err != nil {
		log.Fatal("Failed to create scanner service", logger.Error(err))
	}

	// Transmission history
	var (
		db            *sql.DB
		transmissions *sqlite.TransmissionStorage
		sessions      *sqlite.SessionStorage
	)
	if cfg.Storage.Enabled {
		db, err = sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			log.Fatal("Failed to open database", logger.Error(err))
		}
		defer db.Close()

		transmissions, err = sqlite.NewTransmissionStorage(db, log)
		if err != nil {
			log.Fatal("Failed to initialize transmission storage", logger.Error(err))
		}
		sessions, err = sqlite.NewSessionStorage(db, log)
		if err != nil {
			log.Fatal("Failed to initialize session storage", logger.Error(err))
		}

		svc.AddListener(sqlite.NewRecorder(transmissions, sessions, log))
		log.Info("Transmission history enabled", logger.String("path", cfg.Storage.SQLitePath))
	}

	// NSQ fan-out
	if cfg.NSQ.Enabled {
		publisher, err := broker.NewPublisher(cfg.NSQ.NSQDAddress, cfg.NSQ.Topic, log)
		if err != nil {
			log.Fatal("Failed to create NSQ publisher", logger.Error(err))
		}
		defer publisher.Close()

		svc.AddListener(publisher)
		log.Info("Publishing transmissions to NSQ",
			logger.String("nsqd", cfg.NSQ.NSQDAddress),
			logger.String("topic", cfg.NSQ.Topic))
	}

	// Websocket relay
	wsServer := websocket.NewServer(svc, cfg.Server.CORSAllowedOrigins, log)
	svc.AddListener(wsServer)

	// HTTP control plane
	router := newRouter(svc, transmissions, sessions, wsServer, cfg, log)
	server := &http.Server{
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
	}

	listener, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		log.Fatal("Failed to listen", logger.String("addr", cfg.Server.ListenAddr), logger.Error(err))
	}
	if cfg.Server.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, cfg.Server.MaxConnections)
	}

	go func() {
		log.Info("HTTP server listening",
			logger.String("addr", listener.Addr().String()),
			logger.Int("max_connections", cfg.Server.MaxConnections))
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", logger.Error(err))
			cancel()
		}
	}()

	if opts.start || cfg.Scanner.AutoStart {
		result, err := svc.Start(ctx, opts.settings())
		if err != nil {
			log.Fatal("Failed to start scanner", logger.Error(err))
		}
		log.Info("Starting Aviation Scanner", logger.String("status", result.Status), logger.Any("settings", result.Settings))
	} else if partial := opts.settings(); len(partial) > 0 {
		if _, err := svc.UpdateSettings(partial); err != nil {
			log.Fatal("Invalid settings flags", logger.Error(err))
		}
	}

	<-ctx.Done()
	log.Info("Shutting down")

	status := svc.Status()
	svc.Stop()
	wsServer.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown incomplete", logger.Error(err))
	}

	logSummary(log, status, transmissions, cfg.Storage)
}

func newRouter(svc *scanner.Service, transmissions *sqlite.TransmissionStorage, sessions *sqlite.SessionStorage, wsServer *websocket.Server, cfg *config.Config, log *logger.Logger) http.Handler {
	// Typed nil pointers must not reach the handler as non-nil interfaces
	var history api.TransmissionHistory
	var sessionHistory api.SessionHistory
	if transmissions != nil {
		history = transmissions
	}
	if sessions != nil {
		sessionHistory = sessions
	}

	return api.NewRouter(svc, history, sessionHistory, wsServer, cfg, log).Routes()
}

func logSummary(log *logger.Logger, status scanner.Status, transmissions *sqlite.TransmissionStorage, storage config.StorageConfig) {
	fields := []logger.Field{
		logger.String("delivered", humanize.Comma(status.Delivered)),
		logger.Int64("last_played_id", status.LastPlayedID),
	}
	if status.StartedAt != nil {
		fields = append(fields, logger.String("running_since", humanize.Time(*status.StartedAt)))
	}

	if transmissions != nil {
		if n, err := transmissions.CountTransmissions(); err == nil {
			fields = append(fields, logger.String("stored", humanize.Comma(n)))
		}
		if fi, err := os.Stat(storage.SQLitePath); err == nil {
			fields = append(fields, logger.String("db_size", humanize.Bytes(uint64(fi.Size()))))
		}
	}

	log.Info("Scanner stopped", fields...)
}
