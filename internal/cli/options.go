// Package cli parses the command line flags the mtproto-proxy binary
// accepts: the config file, where to log, and the handful of run-time
// knobs that don't belong in the TOML document.
package cli

import (
	"fmt"

	"github.com/spf13/pflag"
)

// Options is the parsed result of a single command line invocation.
type Options struct {
	ShowHelp   bool
	ConfigFile string
	LogFile    string
	StatsHTTP  string
	TestSecret string
	Verbosity  int
}

func newFlagSet(opts *Options) *pflag.FlagSet {
	fs := pflag.NewFlagSet("mtproto-proxy", pflag.ContinueOnError)
	fs.Usage = func() {}

	fs.BoolVarP(&opts.ShowHelp, "help", "h", false, "show usage and exit")
	fs.StringVarP(&opts.ConfigFile, "config", "c", "", "path to the TOML configuration file (required)")
	fs.StringVarP(&opts.LogFile, "log", "l", "", "path to the log file (default: stderr)")
	fs.StringVar(&opts.StatsHTTP, "stats-http", "", "address to serve /stats and /metrics on, e.g. :2398 (default: disabled)")
	fs.StringVar(&opts.TestSecret, "test-secret", "", "decrypt a captured client handshake with this hex secret and exit, for debugging")
	fs.CountVarP(&opts.Verbosity, "verbose", "v", "increase log verbosity")
	return fs
}

// Parse parses args (typically os.Args[1:]) into Options.
func Parse(args []string) (Options, error) {
	var opts Options
	fs := newFlagSet(&opts)

	if err := fs.Parse(args); err != nil {
		return Options{}, err
	}

	if opts.ShowHelp {
		return opts, nil
	}

	if opts.ConfigFile == "" {
		if positional := fs.Args(); len(positional) == 1 {
			opts.ConfigFile = positional[0]
		}
	}
	if opts.ConfigFile == "" && opts.TestSecret == "" {
		return Options{}, fmt.Errorf("cli: --config is required")
	}

	return opts, nil
}

// FlagUsage renders the flag defaults the way Usage prints them.
func FlagUsage() string {
	var opts Options
	return newFlagSet(&opts).FlagUsages()
}
