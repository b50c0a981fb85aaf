package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"certinv/config"
	"certinv/internal/auth"
	"certinv/internal/directory"
	"certinv/internal/inventory"
	"certinv/internal/logger"
	"certinv/internal/seed"
	"certinv/internal/version"
)

func main() {
	command, args := "serve", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}

	switch command {
	case "serve":
		serve()
	case "seed-teams":
		cmdSeedTeams(args)
	case "hash-password":
		cmdHashPassword(args)
	case "version":
		info := version.Info()
		fmt.Printf("certinv %s (commit %s, built %s)\n", info["version"], info["commit"], info["buildDate"])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: server [command]

Commands:
  serve          Run the HTTP server (default)
  seed-teams     Register the teams listed in a YAML seed file
  hash-password  Print a bcrypt hash, and optionally a TOTP secret, for a settings file user
  version        Print build information`)
}

func loadConfig() config.Config {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.Logging)
	if err := cfg.Validate(); err != nil {
		logger.Get().Fatal().Err(err).Msg("Invalid configuration")
	}
	return cfg
}

func serve() {
	cfg := loadConfig()
	log := logger.Get()

	log.Info().
		Str("version", version.Version).
		Msg("certinv starting")

	log.Info().
		Str("env", string(cfg.Env)).
		Str("log_level", cfg.Logging.Level).
		Str("log_format", cfg.Logging.Format).
		Str("store_driver", cfg.Database.Driver).
		Str("directory_kind", cfg.Directory.Kind).
		Int("users", len(cfg.Auth.Users)).
		Msg("Configuration loaded")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctx := context.Background()
	st, closeStore, err := openStore(ctx, cfg.Database, registry)
	if err != nil {
		log.Fatal().Err(err).
			Str("driver", cfg.Database.Driver).
			Msg("Failed to open record store")
	}
	defer closeStore()

	dir, err := openDirectory(cfg.Directory)
	if err != nil {
		log.Fatal().Err(err).
			Str("kind", cfg.Directory.Kind).
			Msg("Failed to initialize directory client")
	}
	log.Info().Str("kind", cfg.Directory.Kind).Msg("Directory client initialized")

	app := newApplication(cfg, st, dir, registry)
	if cfg.SeedTeamsFile != "" {
		if _, err := seed.Teams(ctx, app.service, cfg.SeedTeamsFile); err != nil {
			log.Fatal().Err(err).Str("file", cfg.SeedTeamsFile).Msg("Failed to seed teams")
		}
	}

	stop := make(chan struct{})
	app.runWorkers(stop)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      buildRouter(app),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	signal.Stop(quit)

	log.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	close(stop)
	dir.Shutdown()

	log.Info().Msg("Server stopped")
}

func cmdSeedTeams(args []string) {
	fs := flag.NewFlagSet("seed-teams", flag.ExitOnError)
	file := fs.String("file", "", "YAML seed file (default: SEED_TEAMS_FILE)")
	_ = fs.Parse(args)

	cfg := loadConfig()
	path := *file
	if path == "" {
		path = cfg.SeedTeamsFile
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "Usage: server seed-teams -file <teams.yaml>")
		os.Exit(1)
	}

	ctx := context.Background()
	st, closeStore, err := openStore(ctx, cfg.Database, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer closeStore()

	created, err := seed.Teams(ctx, inventory.New(st, directory.NewDisabled(), nil), path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	for _, name := range created {
		fmt.Printf("Created team %q\n", name)
	}
	fmt.Printf("%d team(s) created\n", len(created))
}

func cmdHashPassword(args []string) {
	fs := flag.NewFlagSet("hash-password", flag.ExitOnError)
	totpEmail := fs.String("totp", "", "Also generate a TOTP secret for this email")
	_ = fs.Parse(args)

	password := fs.Arg(0)
	if password == "" {
		fmt.Fprint(os.Stderr, "Password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)

	if *totpEmail != "" {
		secret, url, err := auth.GenerateTOTP(*totpEmail)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("totp_secret: %s\notpauth_url: %s\n", secret, url)
	}
}
