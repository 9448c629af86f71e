package proxy

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/go-mtproxy/mtproxy/internal/config"
)

// Listener accepts client connections on both the IPv4 and (when
// available) IPv6 wildcard address, performs the client obfuscated
// handshake, and dispatches each session to either a direct-datacenter
// relay or a middle-proxy relay depending on the snapshot in effect at
// accept time.
type Listener struct {
	Snapshot func() config.Config
	Stats    *Stats
	MyIP     net.IP
	Log      zerolog.Logger

	dialer *net.Dialer
}

func NewListener(snapshot func() config.Config, stats *Stats, myIP net.IP, log zerolog.Logger) *Listener {
	return &Listener{
		Snapshot: snapshot,
		Stats:    stats,
		MyIP:     myIP,
		Log:      log,
		dialer:   &net.Dialer{Timeout: 10 * time.Second},
	}
}

// Serve binds the configured port on both address families it can and
// blocks accepting connections until ctx is canceled.
func (l *Listener) Serve(ctx context.Context) error {
	port := l.Snapshot().Port

	portStr := strconv.Itoa(int(port))

	var listeners []net.Listener
	ln4, err := net.Listen("tcp4", net.JoinHostPort("0.0.0.0", portStr))
	if err != nil {
		return err
	}
	listeners = append(listeners, ln4)

	ln6, err := net.Listen("tcp6", net.JoinHostPort("::", portStr))
	if err == nil {
		listeners = append(listeners, ln6)
	} else {
		l.Log.Debug().Err(err).Msg("ipv6 listener unavailable, continuing on ipv4 only")
	}

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		for _, ln := range listeners {
			ln.Close()
		}
		close(done)
	}()

	errs := make(chan error, len(listeners))
	for _, ln := range listeners {
		go func(ln net.Listener) {
			errs <- l.acceptLoop(ctx, ln)
		}(ln)
	}

	var firstErr error
	for range listeners {
		if err := <-errs; err != nil && firstErr == nil && ctx.Err() == nil {
			firstErr = err
		}
	}
	<-done
	return firstErr
}

func (l *Listener) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		go l.handle(ctx, conn)
	}
}

func (l *Listener) handle(ctx context.Context, conn net.Conn) {
	connID := uuid.NewString()

	defer func() {
		if r := recover(); r != nil {
			l.Log.Error().Interface("panic", r).Str("conn_id", connID).Msg("recovered panic in connection handler")
			conn.Close()
		}
	}()

	cfg := l.Snapshot()

	client, err := ClientHandshake(conn, cfg.Users)
	if err != nil {
		l.Log.Debug().Err(err).Str("conn_id", connID).Str("remote", conn.RemoteAddr().String()).Msg("client handshake failed")
		conn.Close()
		return
	}

	account := l.Stats.ForUser(client.User.Name)
	account.Connected()

	log := l.Log.With().Str("conn_id", connID).Str("user", client.User.Name).Int("dc", client.DCIndex).Logger()

	if cfg.UseMiddleProxy && l.MyIP != nil {
		middle, err := MiddleProxyHandshake(l.dialer, client.DCIndex, l.MyIP, cfg.AdTag)
		if err != nil {
			log.Debug().Err(err).Msg("middle proxy handshake failed")
			conn.Close()
			return
		}
		if err := RelayMiddleProxy(ctx, conn, client, middle, account); err != nil && !errors.Is(err, context.Canceled) {
			log.Debug().Err(err).Msg("middle proxy relay ended")
		}
		return
	}

	mode := ModeDirectReencrypt
	var reuseKeyIV *[prekeyLen + ivLen]byte
	if cfg.FastMode {
		mode = ModeDirectFast
		reuseKeyIV = &client.FastReuseKeyIV
	}

	direct, err := DirectHandshake(l.dialer, client.DCIndex, cfg.PreferIPv6, reuseKeyIV)
	if err != nil {
		log.Debug().Err(err).Msg("direct datacenter handshake failed")
		conn.Close()
		return
	}

	if err := RelayDirect(ctx, conn, client, direct, mode, account, cfg.ReadBufSize); err != nil && !errors.Is(err, context.Canceled) {
		log.Debug().Err(err).Msg("direct relay ended")
	}
}
