package proxy

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Stats holds the per-user Prometheus vectors backing the accounting
// the relay updates on every connect and every byte forwarded.
type Stats struct {
	registry *prometheus.Registry

	connects *prometheus.CounterVec
	current  *prometheus.GaugeVec
	octets   *prometheus.CounterVec
}

func NewStats() *Stats {
	reg := prometheus.NewRegistry()

	s := &Stats{
		registry: reg,
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mtproxy_user_connects_total",
			Help: "Total accepted connections per user.",
		}, []string{"user"}),
		current: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mtproxy_user_current_connections",
			Help: "Currently open relayed connections per user.",
		}, []string{"user"}),
		octets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mtproxy_user_octets_total",
			Help: "Total bytes relayed per user, both directions.",
		}, []string{"user"}),
	}

	reg.MustRegister(s.connects, s.current, s.octets)
	return s
}

// Registry exposes the underlying Prometheus registry, e.g. for an
// HTTP /metrics endpoint.
func (s *Stats) Registry() *prometheus.Registry {
	return s.registry
}

// ForUser returns the accounting handle for one user, binding the
// "user" label once instead of on every relay call.
func (s *Stats) ForUser(name string) *UserAccounting {
	return &UserAccounting{
		connects: s.connects.WithLabelValues(name),
		current:  s.current.WithLabelValues(name),
		octets:   s.octets.WithLabelValues(name),
	}
}

// UserAccounting is the per-connection write side of a user's stats:
// one Connected() call per accepted session, paired
// ConnectionOpened/ConnectionClosed calls around the relay, and
// BytesForwarded() for every chunk moved in either direction.
type UserAccounting struct {
	connects prometheus.Counter
	current  prometheus.Gauge
	octets   prometheus.Counter
}

func (u *UserAccounting) Connected() {
	u.connects.Inc()
}

func (u *UserAccounting) ConnectionOpened() {
	u.current.Inc()
}

func (u *UserAccounting) ConnectionClosed() {
	u.current.Dec()
}

func (u *UserAccounting) BytesForwarded(n int64) {
	if n > 0 {
		u.octets.Add(float64(n))
	}
}

type userSnapshot struct {
	connects int
	current  int
	octets   float64
}

// RenderText formats a per-user report in the same
// "name: N connects (M current), X.XX MB" shape the reference stats
// printer produces, refreshed from whatever the registry currently
// holds.
func (s *Stats) RenderText(now time.Time) string {
	families, err := s.registry.Gather()
	if err != nil {
		return fmt.Sprintf("stats: gather error: %v\n", err)
	}

	snapshots := map[string]*userSnapshot{}
	get := func(user string) *userSnapshot {
		if snap, ok := snapshots[user]; ok {
			return snap
		}
		snap := &userSnapshot{}
		snapshots[user] = snap
		return snap
	}

	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			user := labelValue(m, "user")
			if user == "" {
				continue
			}
			snap := get(user)
			switch fam.GetName() {
			case "mtproxy_user_connects_total":
				snap.connects = int(m.GetCounter().GetValue())
			case "mtproxy_user_current_connections":
				snap.current = int(m.GetGauge().GetValue())
			case "mtproxy_user_octets_total":
				snap.octets = m.GetCounter().GetValue()
			}
		}
	}

	names := make([]string, 0, len(snapshots))
	for name := range snapshots {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "Stats for %s\n", now.Format("02.01.2006 15:04:05"))
	for _, name := range names {
		snap := snapshots[name]
		fmt.Fprintf(&b, "%s: %d connects (%d current), %.2f MB\n",
			name, snap.connects, snap.current, snap.octets/1_000_000)
	}
	return b.String()
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
