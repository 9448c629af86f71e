// Package engine wires the config manager, the accept loop, and the
// stats reporter into the single long-running process the command line
// entry point starts and stops.
package engine

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/go-mtproxy/mtproxy/internal/config"
	"github.com/go-mtproxy/mtproxy/internal/proxy"
)

// Engine is the top-level runnable built by cmd/mtproto-proxy: reload
// the config on SIGHUP, serve client connections, and print a stats
// snapshot on a timer, all stopped together by SIGINT/SIGTERM.
type Engine struct {
	Manager   *config.Manager
	Stats     *proxy.Stats
	Listener  *proxy.Listener
	Reporter  *proxy.StatsReporter
	MyIP      net.IP
	StatsHTTP string // empty disables the HTTP stats/metrics server
	Log       zerolog.Logger
}

// New builds an Engine from an already-loaded initial snapshot.
func New(manager *config.Manager, myIP net.IP, statsHTTP string, log zerolog.Logger) *Engine {
	stats := proxy.NewStats()
	snapshot := func() config.Config {
		s, ok := manager.Current()
		if !ok {
			panic("engine: Current() called before the first config load")
		}
		return s.Config
	}

	listener := proxy.NewListener(snapshot, stats, myIP, log)
	reporter := proxy.NewStatsReporter(stats, snapshot().StatsPrintPeriod, log)

	return &Engine{
		Manager:   manager,
		Stats:     stats,
		Listener:  listener,
		Reporter:  reporter,
		MyIP:      myIP,
		StatsHTTP: statsHTTP,
		Log:       log,
	}
}

// Run blocks until ctx is canceled or a fatal error occurs, reloading
// the configuration whenever SIGHUP arrives and printing invite links
// once at startup.
func (e *Engine) Run(ctx context.Context) error {
	snapshot, ok := e.Manager.Current()
	if !ok {
		return fmt.Errorf("engine: no configuration loaded")
	}
	host := "127.0.0.1"
	if e.MyIP != nil {
		host = e.MyIP.String()
	}
	proxy.PrintInvites(os.Stdout, snapshot.Config.Users, host, snapshot.Config.Port)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.Listener.Serve(gctx)
	})
	g.Go(func() error {
		e.Reporter.Run(gctx)
		return nil
	})

	if e.StatsHTTP != "" {
		server, err := proxy.StartStatsServer(e.Stats, e.StatsHTTP, e.Log)
		if err != nil {
			cancel()
			return fmt.Errorf("engine: start stats server: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			return server.Shutdown(context.Background())
		})
	}

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				if _, err := e.Manager.Reload(); err != nil {
					e.Log.Error().Err(err).Msg("config reload failed, keeping previous configuration")
					continue
				}
				e.Log.Info().Msg("configuration reloaded")
			}
		}
	})

	return g.Wait()
}
