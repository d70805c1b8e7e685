package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/CrowderSoup/taskboard/database"
	"github.com/CrowderSoup/taskboard/handlers"
	"github.com/CrowderSoup/taskboard/services"
)

// app carries state shared by every subcommand.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *Config
	logger  *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: newViper()}

	root := &cobra.Command{
		Use:           "taskboard",
		Short:         "Collaborative kanban board server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(a.v, a.cfgFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = newLogger(cfg.Log, cmd.ErrOrStderr())
			slog.SetDefault(a.logger)
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "path to a YAML config file")
	flags.String("db", "", "SQLite database path")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (text or json)")
	bindFlag(a.v, "database.path", flags.Lookup("db"))
	bindFlag(a.v, "log.level", flags.Lookup("log-level"))
	bindFlag(a.v, "log.format", flags.Lookup("log-format"))

	root.AddCommand(newServeCmd(a))
	root.AddCommand(newMigrateCmd(a))
	root.AddCommand(newSweepCmd(a))
	root.AddCommand(newUserCmd(a))
	return root
}

// bindFlag binds a flag to a config key. An unset flag leaves the
// default, file or environment value in place.
func bindFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("binding flag for %s: %v", key, err))
	}
}

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, WebSocket and lock sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve()
		},
	}
	cmd.Flags().String("addr", "", "listen address")
	cmd.Flags().Duration("lock-ttl", 0, "how long an edit lock lasts")
	cmd.Flags().String("redis-addr", "", "Redis address for the cross-instance event relay")
	bindFlag(a.v, "server.addr", cmd.Flags().Lookup("addr"))
	bindFlag(a.v, "locks.ttl", cmd.Flags().Lookup("lock-ttl"))
	bindFlag(a.v, "redis.addr", cmd.Flags().Lookup("redis-addr"))
	return cmd
}

func (a *app) openData() (*database.DataService, func(), error) {
	db, err := database.InitDB(a.cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	closeDB := func() {
		if err := db.Close(); err != nil {
			a.logger.Warn("failed to close database", "error", err)
		}
	}
	return database.NewDataService(db), closeDB, nil
}

func (a *app) serve() error {
	cfg, logger := a.cfg, a.logger

	data, closeDB, err := a.openData()
	if err != nil {
		return err
	}
	defer closeDB()

	hub := services.NewHub(logger)
	var broadcaster services.Broadcaster = hub

	var relay *services.Relay
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		relay = services.NewRelay(rdb, cfg.Redis.Channel, hub, logger)
		broadcaster = relay
	}

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret = uuid.NewString()
		logger.Warn("auth.jwt_secret not set, using a random secret; tokens will not survive a restart")
	}
	sessions, err := services.NewSessionService(secret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	recorder := services.NewRecorder(data, broadcaster, logger)
	guard := services.NewVersionGuard(data, broadcaster, logger)
	locks := services.NewLockManager(data, broadcaster, cfg.Locks.TTL, logger)

	server := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: handlers.NewRouter(handlers.Deps{
			Data:           data,
			Hub:            hub,
			Directory:      services.NewDirectory(data, broadcaster, logger),
			Sessions:       sessions,
			Tasks:          services.NewTaskService(data, guard, recorder, broadcaster, logger),
			Locks:          locks,
			Resolver:       services.NewResolver(data, recorder, broadcaster, logger),
			Recorder:       recorder,
			Logger:         logger,
			AllowedOrigins: cfg.CORS.AllowedOrigins,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return locks.RunSweeper(gctx, cfg.Locks.SweepInterval)
	})
	if relay != nil {
		g.Go(func() error {
			if err := relay.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("event relay: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		logger.Info("server starting", "addr", server.Addr, "lock_ttl", cfg.Locks.TTL, "relay", relay != nil)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// A component that fails on its own cancels gctx without ctx.
	failed := make(chan struct{})
	go func() {
		<-gctx.Done()
		if ctx.Err() == nil {
			close(failed)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.Server.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"http-server": func(ctx context.Context) error {
				logger.Info("graceful shutdown initiated")
				return server.Shutdown(ctx)
			},
			"background": func(context.Context) error {
				cancel()
				return g.Wait()
			},
		},
	)

	select {
	case exitCode := <-wait:
		logger.Info("server stopped", "exit_code", exitCode)
		if exitCode != 0 {
			return fmt.Errorf("shutdown finished with exit code %d", exitCode)
		}
		return nil
	case <-failed:
		cancel()
		server.Close()
		return g.Wait()
	}
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, closeDB, err := a.openData()
			if err != nil {
				return err
			}
			defer closeDB()
			a.logger.Info("database migrated", "path", a.cfg.Database.Path)
			return nil
		},
	}
}

func newSweepCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Reclaim expired task locks once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, closeDB, err := a.openData()
			if err != nil {
				return err
			}
			defer closeDB()

			// No sockets are attached to a one-shot process.
			locks := services.NewLockManager(data, services.NopBroadcaster{}, a.cfg.Locks.TTL, a.logger)
			n, err := locks.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reclaimed %d expired lock(s)\n", n)
			return nil
		},
	}
}

func newUserCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	var name, email string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, closeDB, err := a.openData()
			if err != nil {
				return err
			}
			defer closeDB()

			user, err := services.NewDirectory(data, nil, a.logger).CreateUser(cmd.Context(), name, email)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(user)
		},
	}
	create.Flags().StringVar(&name, "name", "", "display name")
	create.Flags().StringVar(&email, "email", "", "email address")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("email")

	cmd.AddCommand(create)
	return cmd
}
