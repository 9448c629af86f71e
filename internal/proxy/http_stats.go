package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// StatsServer exposes /stats (the human-readable per-user report) and
// /metrics (the raw Prometheus registry) over HTTP, the same optional
// observability surface the reference proxy offers via a stats port.
type StatsServer struct {
	server   *http.Server
	listener net.Listener
}

func NewStatsHandler(stats *Stats) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, stats.RenderText(time.Now()))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(stats.Registry(), promhttp.HandlerOpts{}))
	return mux
}

func StartStatsServer(stats *Stats, addr string, log zerolog.Logger) (*StatsServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	srv := &http.Server{
		Addr:    addr,
		Handler: NewStatsHandler(stats),
	}
	out := &StatsServer{
		server:   srv,
		listener: ln,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("stats server error")
		}
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("stats server listening")
	return out, nil
}

func (s *StatsServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *StatsServer) Addr() string {
	return s.listener.Addr().String()
}
