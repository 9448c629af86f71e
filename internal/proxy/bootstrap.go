package proxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/go-mtproxy/mtproxy/internal/config"
)

// IPResolver discovers this process's own public IP, the address
// advertised in invite links and mixed into the middle-proxy key
// derivation. It is a single outbound GET with no protocol of its own,
// so it stays on net/http rather than pulling in a library (see
// DESIGN.md).
type IPResolver interface {
	ResolveMyIP(ctx context.Context) (net.IP, error)
}

type HTTPIPResolver struct {
	Client *http.Client
}

func NewHTTPIPResolver() *HTTPIPResolver {
	return &HTTPIPResolver{Client: &http.Client{Timeout: 10 * time.Second}}
}

func (r *HTTPIPResolver) ResolveMyIP(ctx context.Context) (net.IP, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://ifconfig.co/ip", nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("proxy: ifconfig.co/ip returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return nil, err
	}

	ip := net.ParseIP(strings.TrimSpace(string(body)))
	if ip == nil {
		return nil, fmt.Errorf("proxy: could not parse IP from ifconfig.co/ip response")
	}
	return ip, nil
}

// PrintInvites renders one tg://proxy invite link per user, sorted by
// name, the way the reference implementation sorts USERS.items().
func PrintInvites(w io.Writer, users []config.User, host string, port uint16) {
	sorted := make([]config.User, len(users))
	copy(sorted, users)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	for _, u := range sorted {
		secretHex := fmt.Sprintf("%x", u.Secret[:])
		fmt.Fprintf(w, "%s: tg://proxy?server=%s&port=%s&secret=%s\n",
			u.Name, url.QueryEscape(host), strconv.Itoa(int(port)), url.QueryEscape(secretHex))
	}
}

// StatsReporter periodically logs the rendered per-user stats report.
type StatsReporter struct {
	stats  *Stats
	period time.Duration
	log    zerolog.Logger
}

func NewStatsReporter(stats *Stats, period time.Duration, log zerolog.Logger) *StatsReporter {
	return &StatsReporter{stats: stats, period: period, log: log}
}

// Run blocks, printing a snapshot every period until ctx is canceled.
func (r *StatsReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.log.Info().Msg(strings.TrimRight(r.stats.RenderText(now), "\n"))
		}
	}
}
