// Package config loads and validates the TOML configuration document:
// the listening port, the registered users and their secrets, and the
// handful of advanced knobs (IPv6 preference, fast mode, stats period,
// read buffer size, ad tag) the reference implementation exposes as
// module-level settings.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const secretLen = 16

// User is one registered proxy user: a name (used only for logs and
// invite links) and the 16-byte secret their client authenticates with.
type User struct {
	Name   string
	Secret [16]byte
}

// rawConfig mirrors the TOML document shape; Users is a map so
// go-toml/v2 can decode the [users] table, but map iteration order is
// randomized, so Load re-derives a stable, deterministic user order
// (see Config.Users doc).
type rawConfig struct {
	Port             uint16            `toml:"port"`
	PreferIPv6       bool              `toml:"prefer_ipv6"`
	FastMode         bool              `toml:"fast_mode"`
	StatsPrintPeriod string            `toml:"stats_print_period"`
	ReadBufSize      int               `toml:"read_buf_size"`
	AdTag            string            `toml:"ad_tag"`
	Users            map[string]string `toml:"users"`
}

// Config is the fully parsed and validated configuration.
type Config struct {
	Port             uint16
	Users            []User // stable order: the order names appeared isn't preserved by TOML maps, so this is sorted by name
	PreferIPv6       bool
	FastMode         bool
	StatsPrintPeriod time.Duration
	ReadBufSize      int
	AdTag            []byte // nil, or exactly 16 bytes

	// UseMiddleProxy is derived, never configured directly: relaying
	// through Telegram's middle proxies requires a 16-byte ad tag.
	UseMiddleProxy bool
}

const (
	defaultStatsPrintPeriod = 600 * time.Second
	defaultReadBufSize      = 4096
)

// Load reads and validates the TOML document at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse validates and converts an in-memory TOML document, the form
// Manager.Check/Reload re-parses on every call.
func Parse(data []byte) (Config, error) {
	var raw rawConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}

	cfg := Config{
		Port:        raw.Port,
		PreferIPv6:  raw.PreferIPv6,
		FastMode:    raw.FastMode,
		ReadBufSize: raw.ReadBufSize,
	}
	if cfg.ReadBufSize <= 0 {
		cfg.ReadBufSize = defaultReadBufSize
	}

	if raw.StatsPrintPeriod == "" {
		cfg.StatsPrintPeriod = defaultStatsPrintPeriod
	} else {
		d, err := time.ParseDuration(raw.StatsPrintPeriod)
		if err != nil {
			return Config{}, fmt.Errorf("config: stats_print_period: %w", err)
		}
		cfg.StatsPrintPeriod = d
	}

	if cfg.Port == 0 {
		return Config{}, fmt.Errorf("config: port must be non-zero")
	}

	if raw.AdTag != "" {
		adTag, err := hex.DecodeString(raw.AdTag)
		if err != nil {
			return Config{}, fmt.Errorf("config: ad_tag: %w", err)
		}
		if len(adTag) != 16 {
			return Config{}, fmt.Errorf("config: ad_tag must decode to 16 bytes, got %d", len(adTag))
		}
		cfg.AdTag = adTag
		cfg.UseMiddleProxy = true
	}

	if len(raw.Users) == 0 {
		return Config{}, fmt.Errorf("config: no users defined")
	}

	names := make([]string, 0, len(raw.Users))
	for name := range raw.Users {
		names = append(names, name)
	}
	sort.Strings(names)

	cfg.Users = make([]User, 0, len(names))
	for _, name := range names {
		secretHex := raw.Users[name]
		secret, err := hex.DecodeString(secretHex)
		if err != nil {
			return Config{}, fmt.Errorf("config: user %q: secret: %w", name, err)
		}
		if len(secret) != secretLen {
			return Config{}, fmt.Errorf("config: user %q: secret must be %d bytes, got %d", name, secretLen, len(secret))
		}
		var u User
		u.Name = name
		copy(u.Secret[:], secret)
		cfg.Users = append(cfg.Users, u)
	}

	return cfg, nil
}
