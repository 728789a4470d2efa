package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kristofferous/ComfortcloudPanasonicApp/config"
	"github.com/kristofferous/ComfortcloudPanasonicApp/internal/api"
	"github.com/kristofferous/ComfortcloudPanasonicApp/internal/bridge"
	"github.com/kristofferous/ComfortcloudPanasonicApp/internal/climate"
	"github.com/kristofferous/ComfortcloudPanasonicApp/internal/comfortcloud"
	"github.com/kristofferous/ComfortcloudPanasonicApp/internal/credentials"
	"github.com/kristofferous/ComfortcloudPanasonicApp/internal/devicemap"
	"github.com/kristofferous/ComfortcloudPanasonicApp/internal/logging"
	"github.com/kristofferous/ComfortcloudPanasonicApp/internal/poller"
	"github.com/kristofferous/ComfortcloudPanasonicApp/internal/storage/sqlite"
	"github.com/kristofferous/ComfortcloudPanasonicApp/internal/telemetry"
)

const (
	shutdownTimeout   = 10 * time.Second
	startupTimeout    = 30 * time.Second
	pollTimeout       = 5 * time.Minute
	defaultConfigPath = "config.yaml"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	// Parse command-line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	useEnv := flag.Bool("env", false, "Load configuration from environment variables")
	flag.Parse()

	// Load configuration
	var cfg *config.Config
	var err error

	if *useEnv {
		cfg, err = config.LoadFromEnv()
	} else {
		cfg, err = config.Load(*configPath)
	}

	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logging
	logger := logging.NewLogger(logging.LoggerConfig{
		Format: cfg.Logging.Format,
		Level:  cfg.Logging.Level,
	})
	slog.SetDefault(logger)

	mainLogger := logger.With("component", "main")
	mainLogger.Info("Comfort Cloud bridge starting",
		"store_backend", cfg.Store.Backend,
		"mqtt", cfg.MQTT.Enabled,
		"influxdb", cfg.InfluxDB.Enabled,
	)

	// Initialize session persistence
	store, closeStore, err := newSessionStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// Initialize Comfort Cloud client
	client, err := comfortcloud.NewClient(comfortcloud.ClientConfig{
		BaseURL:     cfg.ComfortCloud.BaseURL,
		AppVersion:  cfg.ComfortCloud.AppVersion,
		LoginID:     cfg.ComfortCloud.LoginID,
		Password:    cfg.ComfortCloud.Password,
		HTTPTimeout: cfg.ComfortCloud.HTTPTimeout,
		Gate: comfortcloud.GateConfig{
			MaxConcurrent: cfg.ComfortCloud.MaxConcurrent,
			MinInterval:   cfg.ComfortCloud.MinInterval,
			MaxQueue:      cfg.ComfortCloud.MaxQueue,
		},
		Store:  logging.NewSessionStoreLogger(store, logger),
		Mapper: devicemap.New(),
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create Comfort Cloud client: %w", err)
	}

	registry := climate.NewRegistry()

	// Fetch the device inventory once before the poller takes over, so the
	// first state poll has devices to work with. The upstream may be down at
	// boot; polling retries on its own schedule.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), startupTimeout)
	devices, err := client.Devices(startupCtx)
	startupCancel()
	if err != nil {
		mainLogger.Warn("Initial device discovery failed, will retry on schedule", "error", err)
	} else {
		registry.SetDevices(devices)
		mainLogger.Info("Device inventory loaded", "devices", len(devices))
	}

	// Optional MQTT bridge
	var mqttConn *bridge.Conn
	var mqttBridge *bridge.Bridge
	if cfg.MQTT.Enabled {
		topics := bridge.NewTopics(cfg.MQTT.TopicPrefix)
		mqttConn, err = bridge.Connect(bridge.Config{
			Host:     cfg.MQTT.Host,
			Port:     cfg.MQTT.Port,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			ClientID: cfg.MQTT.ClientID,
			TLS:      cfg.MQTT.TLS,
			QoS:      byte(cfg.MQTT.QoS),
		}, topics.BridgeStatus(), logger)
		if err != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}

		mqttBridge = bridge.New(mqttConn, client, registry, topics, logger)
		if err := mqttBridge.Start(); err != nil {
			return fmt.Errorf("failed to subscribe to MQTT commands: %w", err)
		}
	}

	// Optional InfluxDB telemetry
	var recorder *telemetry.Recorder
	if cfg.InfluxDB.Enabled {
		recorder = telemetry.NewRecorder(telemetry.Config{
			URL:    cfg.InfluxDB.URL,
			Token:  cfg.InfluxDB.Token,
			Org:    cfg.InfluxDB.Org,
			Bucket: cfg.InfluxDB.Bucket,
		}, logger)
	}

	// Start the poller: device states on a short leash, the inventory on a
	// long one.
	pollLogger := logger.With("component", "poll")
	sched := poller.NewScheduler(poller.Config{
		Jitter: cfg.Poll.Jitter,
		Logger: logger,
	})

	pollStates := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, pollTimeout)
		defer cancel()

		current := registry.Devices()
		failed := 0
		for _, device := range current {
			state, err := client.DeviceState(ctx, device.GUID)
			if err != nil {
				failed++
				_ = registry.RecordFailure(device.GUID, err)
				continue
			}
			_ = registry.RecordState(device.GUID, state)
		}

		if mqttBridge != nil {
			mqttBridge.PublishAll()
		}
		if recorder != nil {
			recorder.RecordAll(registry.Snapshots())
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d device state polls failed", failed, len(current))
		}
		return nil
	}

	pollDevices := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, pollTimeout)
		defer cancel()

		devices, err := client.Devices(ctx)
		if err != nil {
			return fmt.Errorf("failed to list devices: %w", err)
		}
		registry.SetDevices(devices)
		pollLogger.Info("Device inventory refreshed", "devices", len(devices))
		return nil
	}

	if err := sched.Register(poller.Task{
		ID:             "poll-states",
		Interval:       cfg.Poll.StateInterval,
		Action:         pollStates,
		RunImmediately: true,
	}); err != nil {
		return fmt.Errorf("failed to register state poll: %w", err)
	}
	if err := sched.Register(poller.Task{
		ID:       "poll-devices",
		Interval: cfg.Poll.DeviceInterval,
		Action:   pollDevices,
	}); err != nil {
		return fmt.Errorf("failed to register device poll: %w", err)
	}
	sched.Start()

	// Initialize REST API
	router := api.NewRouter(api.RouterConfig{
		Registry: registry,
		Devices:  client,
		Sessions: client,
		Poller:   sched,
		Queue:    client,
		APIKey:   cfg.Server.APIKey,
		Logger:   logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		mainLogger.Info("Starting HTTP server", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for interrupt signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		mainLogger.Info("Received signal, starting graceful shutdown", "signal", sig.String())

		// Stop polling first so nothing publishes into a closing pipeline.
		sched.Stop()
		sched.Wait()

		if mqttConn != nil {
			mqttConn.Close()
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		if recorder != nil {
			recorder.Close()
		}

		mainLogger.Info("Graceful shutdown complete")
	}

	return nil
}

// newSessionStore builds the configured session persistence backend and a
// cleanup function for it. cfg has been validated, so the backend is one of
// the known names.
func newSessionStore(cfg *config.Config) (comfortcloud.SessionStore, func(), error) {
	switch cfg.Store.Backend {
	case "sqlite":
		store, err := sqlite.New(cfg.Store.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open session database: %w", err)
		}
		return store, func() { _ = store.Close() }, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		return credentials.NewRedisStore(client, cfg.Store.Redis.Key), func() { _ = client.Close() }, nil

	case "memory":
		return credentials.NewMemoryStore(), func() {}, nil

	default: // file
		return credentials.NewFileStore(cfg.Store.Path), func() {}, nil
	}
}
