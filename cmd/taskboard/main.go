package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/taskboardhq/taskboard/internal/activity"
	"github.com/taskboardhq/taskboard/internal/auth"
	"github.com/taskboardhq/taskboard/internal/bridge"
	"github.com/taskboardhq/taskboard/internal/config"
	"github.com/taskboardhq/taskboard/internal/logger"
	"github.com/taskboardhq/taskboard/internal/pidfile"
	"github.com/taskboardhq/taskboard/internal/realtime"
	"github.com/taskboardhq/taskboard/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	configPath := flag.String("config", "taskboard.json", "path to the JSON config file")
	addr := flag.String("addr", "", "listen address (overrides config)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error, none (overrides config)")
	pidPath := flag.String("pidfile", "", "optional PID file path")
	mintToken := flag.String("mint-token", "", "print a signed service token for the given principal and exit")
	mintRole := flag.String("mint-role", "admin", "role claim for -mint-token")
	mintTTL := flag.Duration("mint-ttl", 24*time.Hour, "lifetime for -mint-token")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("jwt secret not configured (set jwt_secret or TASKBOARD_JWT_SECRET)")
	}

	verifier := auth.NewVerifier(cfg.JWTSecret)

	if *mintToken != "" {
		token, err := verifier.Sign(&auth.Identity{Principal: *mintToken, Role: *mintRole}, *mintTTL)
		if err != nil {
			return fmt.Errorf("failed to mint token: %w", err)
		}
		fmt.Println(token)
		return nil
	}

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogFile); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		if err != nil {
			logger.Error("Fatal error: %v", err)
		}
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()

	if *pidPath != "" {
		pf, err := pidfile.Acquire(*pidPath)
		if err != nil {
			return err
		}
		defer pf.Release()
	}

	registry := realtime.NewRegistry()
	dispatcher := realtime.NewDispatcher(registry)

	var store *activity.Store
	if cfg.ActivityDBPath != "" {
		store, err = activity.NewStore(cfg.ActivityDBPath)
		if err != nil {
			return fmt.Errorf("failed to open activity store: %w", err)
		}
		defer store.Close()
		dispatcher.AddObserver(store)
		logger.Info("activity log enabled at %s", cfg.ActivityDBPath)
	}

	var natsBridge *bridge.Bridge
	if cfg.NATSURL != "" {
		natsBridge, err = bridge.Connect(cfg.NATSURL)
		if err != nil {
			// The server is still useful without the bridge
			logger.Warn("event bridge disabled: %v", err)
			err = nil
		} else {
			defer natsBridge.Close()
			dispatcher.AddObserver(natsBridge)
			logger.Info("event bridge connected to %s", cfg.NATSURL)
		}
	}

	tracker := realtime.NewTracker(dispatcher, realtime.TrackerConfig{
		TypingTimeout:  time.Duration(cfg.TypingTimeoutSeconds) * time.Second,
		EditingTimeout: time.Duration(cfg.EditingTimeoutSeconds) * time.Second,
	})
	tracker.Start()
	defer tracker.Stop()

	server := ws.NewServer(cfg.Addr, registry, dispatcher, tracker, verifier)
	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received %s, shutting down", sig)

	if err := server.Stop(); err != nil {
		logger.Error("server shutdown error: %v", err)
	}
	return nil
}
