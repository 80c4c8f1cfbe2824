package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"bplog/internal/config"
	db "bplog/internal/db"
	httpapi "bplog/internal/httpapi"
	"bplog/internal/migrate"
	pressure "bplog/internal/modules/pressure"
	"bplog/internal/modules/pressure/repository"
	pressureviews "bplog/internal/modules/pressure/views"
	"bplog/internal/mqtt"
)

func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"staticDir", cfg.StaticDir,
		"storeBackend", cfg.StoreBackend,
		"dataFile", cfg.DataFile,
		"inputTZ", cfg.InputTZ.String(),
		"groupTZ", zoneName(cfg.GroupTZ),
		"chartTZ", cfg.ChartTZ.String(),
		"sqlitePath", cfg.SQLitePath,
		"mqttBroker", cfg.MQTTBroker,
		"mqttPort", cfg.MQTTPort,
		"mqttTopic", cfg.MQTTTopic,
	)

	repo, closeStore, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("store check: %w", err)
	}
	logger.Info("store ready", "backend", cfg.StoreBackend)

	if err := pressureviews.LoadTemplates(); err != nil {
		return err
	}

	var (
		subscriber *mqtt.Subscriber
		broker     httpapi.ConnectionState
	)
	if cfg.MQTTBroker != "" {
		subscriber, err = mqtt.NewSubscriber(cfg, logger)
		if err != nil {
			return err
		}
		broker = subscriber
	}

	mux := httpapi.NewMux(repo, cfg.StaticDir, broker, logger)
	pressureService := pressure.RegisterFeature(mux, repo, cfg, logger)

	if subscriber != nil {
		// Set the handler before Connect so OnConnectHandler can subscribe
		// immediately; the broker may deliver queued messages right after CONNACK.
		pressure.RegisterMQTTHandler(subscriber, pressureService, logger)

		// Use a short timeout for the initial connect so a down broker does not block startup.
		connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
		err = subscriber.Connect(connectCtx)
		connectCancel()
		if err != nil {
			logger.Warn("mqtt connection failed (continuing without mqtt)", "error", err)
		}
	}

	srv := httpapi.NewServer(cfg, mux, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if subscriber != nil {
		logger.Info("mqtt disconnecting")
		subscriber.Disconnect()
	}

	logger.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	err = <-errCh
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return ctx.Err()
}

// OpenStore opens the configured reading store. For SQLite it also applies
// pending migrations. The returned func releases the store.
func OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (repository.ReadingRepository, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendSQLite:
		dbConn, err := OpenDatabase(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		closeDB := func() {
			if err := db.Close(dbConn); err != nil {
				logger.Error("db close", "error", err)
			}
		}
		return repository.NewSQLiteRepository(dbConn, logger), closeDB, nil
	default:
		repo, err := repository.NewFileRepository(cfg.DataFile, logger)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() {}, nil
	}
}

// OpenDatabase opens SQLite and brings the schema up to date.
func OpenDatabase(ctx context.Context, cfg config.Config, logger *slog.Logger) (*sql.DB, error) {
	dbConn, err := db.Open(cfg, logger)
	if err != nil {
		return nil, err
	}
	applied, err := migrate.Run(ctx, dbConn, logger)
	if err != nil {
		_ = db.Close(dbConn)
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info("database ready", "path", cfg.SQLitePath, "migrations_applied", applied)
	return dbConn, nil
}

func zoneName(loc *time.Location) string {
	if loc == nil {
		return "per-reading"
	}
	return loc.String()
}
