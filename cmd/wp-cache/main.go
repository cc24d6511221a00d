package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	wpcache "github.com/always-cache/wp-cache"
	"github.com/always-cache/wp-cache/admin"
	"github.com/always-cache/wp-cache/cache"
	"github.com/always-cache/wp-cache/events"
	"github.com/always-cache/wp-cache/policy"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	configFilenameFlag string
	portFlag           int
	adminPortFlag      int
	originFlag         string
	addrFlag           string
	hostFlag           string
	dbFilenameFlag     string
	sweepFlag          time.Duration
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to YAML config file")
	flag.StringVar(&originFlag, "origin", "", "Origin URL to proxy to (overrides addr and host)")
	flag.StringVar(&addrFlag, "addr", "", "Origin IP address to proxy to")
	flag.StringVar(&hostFlag, "host", "", "Hostname of origin")
	flag.IntVar(&portFlag, "port", 8080, "Port to listen on")
	flag.IntVar(&adminPortFlag, "admin-port", 8081, "Port for the admin endpoints (0 to disable)")
	flag.StringVar(&dbFilenameFlag, "db", "cache.db", "Cache DB file name (use 'memory' for in-memory db)")
	flag.DurationVar(&sweepFlag, "sweep", time.Minute, "Interval of purging expired entries (0 to disable)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	var config Config
	if configFilenameFlag != "" {
		var err error
		if config, err = getConfig(configFilenameFlag); err != nil {
			log.Fatal().Err(err).Str("config", configFilenameFlag).Msg("Could not read config")
		}
	}
	applyDefaults(&config)
	applyFlags(&config)

	originURL, err := getOriginURL(config)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not determine origin")
	}

	// set up sqlite memory provider
	dbFilename := config.DB
	if dbFilename == "memory" {
		dbFilename = "file::memory:?cache=shared"
	}
	db, err := cache.NewSQLiteCache(dbFilename)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open cache db")
	}
	defer db.Close()

	bus := events.NewBus(&log.Logger)
	wp := policy.NewWordPress(policy.Options{
		AdminPath:            config.WordPress.AdminPath,
		LoggedInCookiePrefix: config.WordPress.LoggedInCookiePrefix,
		SharedMaxAge:         config.WordPress.SharedMaxAge,
		Logger:               &log.Logger,
	})
	wp.Configure(bus)

	acache := wpcache.New(wpcache.Config{
		Cache:         db,
		OriginURL:     *originURL,
		OriginHost:    config.Host,
		Policy:        wp,
		SweepInterval: config.SweepInterval,
	})
	defer acache.Close()

	servers := []*http.Server{{
		Addr:    fmt.Sprintf(":%d", config.Port),
		Handler: acache,
	}}
	if config.AdminPort > 0 {
		servers = append(servers, &http.Server{
			Addr: fmt.Sprintf(":%d", config.AdminPort),
			Handler: admin.NewRouter(admin.Options{
				Bus:    bus,
				Clock:  wp,
				Token:  config.AdminToken,
				Logger: &log.Logger,
			}),
		})
		log.Info().Msgf("Admin endpoints on port %v", config.AdminPort)
		warnOpenAdmin(config, log.Logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, len(servers))
	for _, server := range servers {
		server := server
		go func() {
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errs <- err
			}
		}()
	}
	log.Info().Msgf("Proxying port %v to %s (with hostname '%s')", config.Port, originURL.String(), config.Host)

	select {
	case err := <-errs:
		log.Error().Err(err).Msg("Server failed")
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, server := range servers {
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Str("addr", server.Addr).Msg("Could not shut down server")
		}
	}
}

// warnOpenAdmin warns when the admin endpoints accept events without a token.
func warnOpenAdmin(config Config, logger zerolog.Logger) {
	if config.AdminPort > 0 && config.AdminToken == "" {
		logger.Warn().Int("adminPort", config.AdminPort).Msg("No admin token configured, anyone reaching the admin port can publish events")
	}
}

// applyDefaults sets the flag defaults for values missing from the config file.
func applyDefaults(config *Config) {
	if config.Port == 0 {
		config.Port = portFlag
	}
	if config.AdminPort == 0 {
		config.AdminPort = adminPortFlag
	}
	if config.DB == "" {
		config.DB = dbFilenameFlag
	}
	if config.SweepInterval == 0 {
		config.SweepInterval = sweepFlag
	}
}

// applyFlags overrides config values with the flags given on the command line.
func applyFlags(config *Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "origin":
			config.Origin = originFlag
		case "addr":
			config.Origin = "https://" + addrFlag
		case "host":
			config.Host = hostFlag
		case "port":
			config.Port = portFlag
		case "admin-port":
			config.AdminPort = adminPortFlag
		case "db":
			config.DB = dbFilenameFlag
		case "sweep":
			config.SweepInterval = sweepFlag
		}
	})
	// origin wins over addr regardless of flag order
	if originFlag != "" {
		config.Origin = originFlag
	}
}

func getOriginURL(config Config) (*url.URL, error) {
	if config.Origin == "" {
		return nil, errors.New("please specify origin")
	}
	originURL, err := url.Parse(config.Origin)
	if err != nil {
		return nil, fmt.Errorf("could not parse origin url: %w", err)
	}
	if originURL.Scheme == "" || originURL.Host == "" {
		return nil, fmt.Errorf("origin %q needs a scheme and a host", config.Origin)
	}
	if originURL.Path != "" && originURL.Path != "/" {
		return nil, fmt.Errorf("origin %q: origins with paths are not supported", config.Origin)
	}
	return originURL, nil
}
