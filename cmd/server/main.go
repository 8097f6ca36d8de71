package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatterlite/internal/config"
	"chatterlite/internal/db"
	"chatterlite/internal/events"
	clog "chatterlite/internal/log"
	"chatterlite/internal/server"
	"chatterlite/internal/storage"
	"chatterlite/internal/store"
	"chatterlite/internal/tracing"
	"chatterlite/internal/ws"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "chatterlite",
		Usage: "Chat server with direct and group messaging",
		// 不带子命令时直接启动服务
		Action:   serve,
		Flags:    serveFlags(),
		Commands: []*cli.Command{serveCommand(), migrateCommand()},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal().Err(err).Msg("chatterlite")
	}
}

func serveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "port",
			Usage: "HTTP listen port (overrides APP_PORT)",
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Start the HTTP and WebSocket server",
		Flags:  serveFlags(),
		Action: serve,
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or update the Postgres schema",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.Load()
			clog.Init(cfg.Env)
			gdb, err := db.Connect(cfg.DatabaseDSN)
			if err != nil {
				return err
			}
			if err := db.Migrate(gdb); err != nil {
				return err
			}
			log.Info().Msg("migrations complete")
			return nil
		},
	}
}

// serve 负责加载配置、初始化日志与各个后端并启动 Gin 服务，收到信号后优雅退出。
func serve(ctx context.Context, cmd *cli.Command) error {
	cfg := config.Load()
	if p := cmd.String("port"); p != "" {
		cfg.Port = p
	}
	clog.Init(cfg.Env)

	if err := config.Validate(cfg); err != nil {
		if !errors.Is(err, config.ErrInsecureSecret) {
			return err
		}
		// 认证不可信时仍然启动，只是关闭认证相关功能
		cfg.AuthDisabled = true
		log.Warn().Str("env", cfg.Env).Msg("JWT_SECRET not configured, auth features disabled")
	}

	shutdownTracing, err := tracing.Init(ctx, cfg.OTLPEndpoint, cfg.Env)
	if err != nil {
		log.Warn().Err(err).Msg("tracing disabled")
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(c)
	}()

	base, err := openStore(cfg)
	if err != nil {
		return err
	}

	bus := events.NewBus()
	var pubs []events.Publisher
	if cfg.RedisURL != "" {
		bridge, err := events.NewRedisBridge(ctx, cfg.RedisURL, cfg.RedisChannel, bus)
		if err != nil {
			return err
		}
		defer bridge.Close()
		go func() {
			if err := bridge.Run(ctx); err != nil {
				log.Error().Err(err).Msg("redis bridge stopped")
			}
		}()
		// 本实例的变更也经 redis 回到本地总线
		pubs = append(pubs, bridge)
	} else {
		pubs = append(pubs, bus)
	}
	if cfg.KafkaBrokers != "" {
		sink := events.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer sink.Close()
		pubs = append(pubs, sink)
	}
	st := store.WithNotifications(base, events.Fanout(pubs...))

	objects, filesDir, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}

	hub := ws.NewHub()
	r := server.SetupRouter(cfg, server.Deps{Store: st, Bus: bus, Objects: objects, FilesDir: filesDir}, hub)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(r, "chatterlite"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("store", cfg.StoreBackend).Str("storage", cfg.StorageBackend).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	log.Info().Msg("shutting down")
	c, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(c)
}

func openStore(cfg config.Config) (store.Store, error) {
	if cfg.StoreBackend != "postgres" {
		log.Warn().Msg("using in-memory store, data is lost on restart")
		return store.NewMemory(), nil
	}
	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(gdb); err != nil {
		return nil, err
	}
	return store.NewGorm(gdb), nil
}

func openStorage(ctx context.Context, cfg config.Config) (storage.ObjectStore, string, error) {
	if cfg.StorageBackend == "minio" {
		m, err := storage.NewMinio(storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			UseSSL:    cfg.MinioUseSSL,
			Bucket:    cfg.MinioBucket,
			PublicURL: cfg.StoragePublicURL,
		})
		if err != nil {
			return nil, "", err
		}
		if err := m.EnsureBucket(ctx); err != nil {
			return nil, "", err
		}
		return m, "", nil
	}
	d, err := storage.NewDisk(cfg.StorageDir, cfg.StoragePublicURL)
	if err != nil {
		return nil, "", err
	}
	return d, d.Dir(), nil
}
