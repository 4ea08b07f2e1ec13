package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

// Options holds CLI options for the router.
type Options struct {
	ConfigPath string
}

// ParseFlags parses CLI flags from args and returns Options. The config
// file may be given either as the single positional argument or via
// --config; running without one uses built-in defaults.
func ParseFlags(args []string) Options {
	fs := pflag.NewFlagSet("mav-lite", pflag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: mav-lite [config.toml]\n\n")
		fs.PrintDefaults()
	}
	var opts Options
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to TOML config file")
	_ = fs.Parse(args)
	if opts.ConfigPath == "" && fs.NArg() > 0 {
		opts.ConfigPath = fs.Arg(0)
	}
	return opts
}
