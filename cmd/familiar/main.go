// ABOUTME: Entry point for the familiar Matrix bot
// ABOUTME: Loads config, wires store, Matrix adapter, settings and fragments, then runs

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-familiar/internal/builtins"
	"github.com/2389/coven-familiar/internal/config"
	"github.com/2389/coven-familiar/internal/fragment"
	"github.com/2389/coven-familiar/internal/matrix"
	"github.com/2389/coven-familiar/internal/resolver"
	"github.com/2389/coven-familiar/internal/settings"
	"github.com/2389/coven-familiar/internal/store"
)

// Version is set at build time.
var version = "dev"

const banner = `
    ╭──────────────────────────────────╮
    │                                  │
    │   ┏━╸┏━┓┏┳┓╻╻  ╻┏━┓┏━┓           │
    │   ┣╸ ┣━┫┃┃┃┃┃  ┃┣━┫┣┳┛           │
    │   ╹  ╹ ╹╹ ╹╹┗━╸╹╹ ╹╹┗╸           │
    │                                  │
    │        a bot for your rooms      │
    │                                  │
    ╰──────────────────────────────────╯
`

// getConfigPath returns the path to the config file.
// Priority: FAMILIAR_CONFIG env var > XDG_CONFIG_HOME/familiar/config.yaml > ~/.config/familiar/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("FAMILIAR_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "familiar", "config.yaml")
}

// getDataPath returns the default data directory.
// Priority: XDG_DATA_HOME/familiar > ~/.local/share/familiar
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "familiar")
}

func main() {
	cmd := "run"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch cmd {
	case "run":
		err = runBot(ctx)
	case "init":
		err = runInit()
	case "version":
		fmt.Println(version)
	default:
		fmt.Println("Usage: familiar [command]")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  run       Connect to Matrix and serve commands (default)")
		fmt.Println("  init      Create a new config file interactively")
		fmt.Println("  version   Print the version")
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runBot(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Homeserver: %s\n", cfg.Matrix.Homeserver)
	green.Print("    ▶ ")
	fmt.Printf("User:       %s\n", cfg.Matrix.UserID)
	green.Print("    ▶ ")
	fmt.Printf("Database:   %s\n", cfg.Database.Path)
	if cfg.Matrix.Encryption {
		green.Print("    ▶ ")
		fmt.Println("Encryption: enabled")
	}
	fmt.Println()

	st, err := store.Open(ctx, cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	mx, err := matrix.New(ctx, st, matrix.Options{
		Homeserver:   cfg.Matrix.Homeserver,
		UserID:       cfg.Matrix.UserID,
		AccessToken:  cfg.Matrix.AccessToken,
		DeviceID:     cfg.Matrix.DeviceID,
		Owner:        cfg.Matrix.Owner,
		AllowedRooms: cfg.Bot.AllowedRooms,
		AutoJoin:     cfg.Matrix.AutoJoin,
		Encryption:   cfg.Matrix.Encryption,
		RecoveryKey:  cfg.Matrix.RecoveryKey,
		DataDir:      cfg.Matrix.DataDir,
		CacheTTL:     cfg.Bot.CacheTTL,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("connecting to matrix: %w", err)
	}
	defer mx.Close()

	res := resolver.New(mx)

	policy := settings.RejectDuplicates
	if cfg.Bot.DuplicateSettings == "overwrite" {
		policy = settings.OverwriteDuplicates
	}
	reg, err := settings.NewRegistry(ctx, st, settings.Options{
		Policy:   policy,
		Channels: res,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("creating settings registry: %w", err)
	}

	var reporter fragment.Reporter
	if cfg.Matrix.ReportRoom != "" {
		room, err := mx.RoomNumber(ctx, cfg.Matrix.ReportRoom)
		if err != nil {
			return fmt.Errorf("resolving report room: %w", err)
		}
		reporter = &fragment.ChannelReporter{Sender: mx, ChannelID: room}
	}

	router := fragment.NewRouter(fragment.RouterConfig{
		Prefix:     cfg.Bot.CommandPrefix,
		Sender:     mx,
		Authorizer: mx,
		Reporter:   reporter,
		Logger:     logger,
	})

	frags, err := builtins.Load(ctx, builtins.Deps{
		Store:    st,
		Settings: reg,
		Resolver: res,
		Gateway:  mx,
		Logger:   logger,
	}, builtins.Options{
		CoursePrefix:     cfg.Links.CoursePrefix,
		Statuses:         cfg.Bot.Statuses,
		ActivityInterval: cfg.Bot.ActivityInterval,
	})
	if err != nil {
		return fmt.Errorf("loading fragments: %w", err)
	}
	for _, f := range frags {
		if err := f.Attach(router); err != nil {
			return fmt.Errorf("attaching fragment %s: %w", f.Name(), err)
		}
		logger.Debug("fragment attached", "fragment", f.Name())
	}

	logger.Info("starting familiar",
		"config", configPath,
		"prefix", cfg.Bot.CommandPrefix,
		"commands", len(router.Commands()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mx.Run(gctx) })
	g.Go(func() error { return router.Run(gctx, mx.Events()) })
	return g.Wait()
}
