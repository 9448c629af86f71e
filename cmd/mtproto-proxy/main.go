package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/go-mtproxy/mtproxy/internal/cli"
	"github.com/go-mtproxy/mtproxy/internal/config"
	"github.com/go-mtproxy/mtproxy/internal/engine"
	"github.com/go-mtproxy/mtproxy/internal/proxy"
)

const fullVersion = "mtproxy-go-dev"

func main() {
	opts, err := cli.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "can not parse options: %v\n", err)
		fmt.Fprint(os.Stderr, cli.Usage(os.Args[0], fullVersion))
		os.Exit(2)
	}

	if opts.ShowHelp {
		fmt.Fprint(os.Stdout, cli.Usage(os.Args[0], fullVersion))
		os.Exit(0)
	}

	logw, closeLog, err := setupLogWriter(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "can not initialize log writer: %v\n", err)
		os.Exit(2)
	}
	defer closeLog()

	log := zerolog.New(logw).With().Timestamp().Logger()
	if opts.Verbosity > 0 {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}

	if opts.TestSecret != "" {
		if err := runTestSecret(opts.TestSecret); err != nil {
			fmt.Fprintf(os.Stderr, "test-secret: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	logHup := make(chan os.Signal, 1)
	signal.Notify(logHup, syscall.SIGHUP)
	go func() {
		for range logHup {
			if err := logw.Reopen(); err != nil {
				log.Error().Err(err).Msg("log file reopen failed")
			}
		}
	}()

	manager := config.NewManager(opts.ConfigFile)
	if _, err := manager.Reload(); err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	myIP, err := proxy.NewHTTPIPResolver().ResolveMyIP(context.Background())
	if err != nil {
		log.Warn().Err(err).Msg("could not resolve own public IP, invite links will show 127.0.0.1 and middle-proxy mode is disabled")
		myIP = nil
	}

	eng := engine.New(manager, myIP, opts.StatsHTTP, log)

	log.Info().Msg("starting: send SIGHUP to reload config, SIGINT/SIGTERM to stop")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("engine stopped with error")
		os.Exit(1)
	}
}

func setupLogWriter(opts cli.Options) (*reopenableLogWriter, func(), error) {
	if opts.LogFile == "" {
		return newStderrLogWriter(), func() {}, nil
	}

	lw, err := newReopenableLogWriter(opts.LogFile)
	if err != nil {
		return nil, nil, err
	}
	return lw, func() {
		_ = lw.Close()
	}, nil
}
