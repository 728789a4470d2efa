package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kristofferous/ComfortcloudPanasonicApp/config"
	"github.com/kristofferous/ComfortcloudPanasonicApp/internal/climate"
	"github.com/kristofferous/ComfortcloudPanasonicApp/internal/comfortcloud"
	"github.com/kristofferous/ComfortcloudPanasonicApp/internal/credentials"
	"github.com/kristofferous/ComfortcloudPanasonicApp/internal/devicemap"
	"github.com/kristofferous/ComfortcloudPanasonicApp/internal/logging"
	"github.com/kristofferous/ComfortcloudPanasonicApp/internal/storage/sqlite"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	action := flag.String("action", "devices", "Action to perform: login, session, devices, status, set, logout")
	deviceGUID := flag.String("device", "", "Device GUID (required for status and set)")
	power := flag.String("power", "", "Power: on or off")
	mode := flag.String("mode", "", "Mode: auto, heat, cool, dry, fan")
	temp := flag.Float64("temp", 0, "Target temperature in degrees Celsius")
	fan := flag.String("fan", "", "Fan speed: auto, low, low_mid, mid, high_mid, high")
	flag.Parse()

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Keep the tool quiet; its output is the result, not the log
	logger := logging.NewLogger(logging.LoggerConfig{Format: "text", Level: "warn"})

	store, closeStore, err := openSessionStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open session store: %v", err)
	}
	defer closeStore()

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
		Store:  store,
		Mapper: devicemap.New(),
		Logger: logger,
	})
	if err != nil {
		log.Fatalf("Failed to create Comfort Cloud client: %v", err)
	}

	// Commands can take a while behind the admission gate and retries
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	switch *action {
	case "login":
		if cfg.ComfortCloud.LoginID == "" || cfg.ComfortCloud.Password == "" {
			log.Fatal("❌ Error: login_id and password must be set in the configuration")
		}
		if err := client.Login(ctx, cfg.ComfortCloud.LoginID, cfg.ComfortCloud.Password); err != nil {
			log.Fatalf("❌ Login failed: %v", err)
		}
		sess := client.CurrentSession(ctx)
		fmt.Printf("✅ Logged in. Session valid for %s.\n", sess.Remaining().Round(time.Second))

	case "session":
		sess := client.CurrentSession(ctx)
		if sess == nil {
			fmt.Println("No session stored. Run -action login first.")
			return
		}
		fmt.Printf("Session expires at: %s\n", sess.ExpiresAt.Format(time.RFC3339))
		fmt.Printf("Remaining:          %s\n", sess.Remaining().Round(time.Second))

	case "devices":
		devices, err := client.Devices(ctx)
		if err != nil {
			log.Fatalf("❌ Failed to list devices: %v", err)
		}
		if len(devices) == 0 {
			fmt.Println("No devices registered to this account.")
			return
		}
		fmt.Printf("%-28s %-20s %-16s %s\n", "GUID", "NAME", "GROUP", "MODEL")
		for _, device := range devices {
			fmt.Printf("%-28s %-20s %-16s %s\n", device.GUID, device.Name, device.Group, device.Model)
		}

	case "status":
		if *deviceGUID == "" {
			log.Fatal("❌ Error: -device is required for -action status")
		}
		state, err := client.DeviceState(ctx, *deviceGUID)
		if err != nil {
			log.Fatalf("❌ Failed to read device state: %v", err)
		}
		printState(state)

	case "set":
		if *deviceGUID == "" {
			log.Fatal("❌ Error: -device is required for -action set")
		}
		cmd := buildCommand(*power, *mode, *temp, *fan)
		if cmd.IsZero() {
			log.Fatal("❌ Error: nothing to set; pass at least one of -power, -mode, -temp, -fan")
		}
		state, err := client.SetDeviceState(ctx, *deviceGUID, cmd)
		if err != nil {
			log.Fatalf("❌ Failed to apply command: %v", err)
		}
		fmt.Println("✅ Command applied. Device reports:")
		printState(state)

	case "logout":
		client.Logout(ctx)
		fmt.Println("✅ Session cleared.")

	default:
		log.Fatalf("Unknown action: %s. Use: login, session, devices, status, set, or logout", *action)
	}
}

func buildCommand(power, mode string, temp float64, fan string) climate.Command {
	var cmd climate.Command
	switch power {
	case "on":
		on := true
		cmd.Power = &on
	case "off":
		off := false
		cmd.Power = &off
	}
	if mode != "" {
		m := climate.Mode(mode)
		cmd.Mode = &m
	}
	if temp != 0 {
		cmd.TargetTemperature = &temp
	}
	if fan != "" {
		f := climate.FanSpeed(fan)
		cmd.FanSpeed = &f
	}
	return cmd
}

func printState(state climate.State) {
	powerText := "off"
	if state.Power {
		powerText = "on"
	}
	fmt.Printf("Power:       %s\n", powerText)
	fmt.Printf("Mode:        %s\n", state.Mode)
	fmt.Printf("Target:      %.1f°C\n", state.TargetTemperature)
	fmt.Printf("Fan:         %s\n", state.FanSpeed)
	fmt.Printf("Swing:       %s / %s\n", state.SwingVertical, state.SwingHorizontal)
	fmt.Printf("Eco:         %s\n", state.Eco)
	if state.IndoorTemperature != nil {
		fmt.Printf("Indoor:      %.1f°C\n", *state.IndoorTemperature)
	}
	if state.OutdoorTemperature != nil {
		fmt.Printf("Outdoor:     %.1f°C\n", *state.OutdoorTemperature)
	}
}

func openSessionStore(cfg *config.Config) (comfortcloud.SessionStore, func(), error) {
	switch cfg.Store.Backend {
	case "sqlite":
		store, err := sqlite.New(cfg.Store.Path)
		if err != nil {
			return nil, nil, err
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

func loadConfig(path string) (*config.Config, error) {
	// Try the file first, fall back to environment variables
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, config.ErrConfigFileNotFound) {
		fmt.Printf("Config file not found at %s, trying environment variables...\n", path)
		return config.LoadFromEnv()
	}
	return nil, err
}
