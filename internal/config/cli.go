package config

import (
	"flag"
	"fmt"
	"io"
)

// ParseFlags parses command line flags and returns the config file path.
func ParseFlags(args []string, stderr io.Writer) (configFile string, err error) {
	fs := flag.NewFlagSet("liveboard", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&configFile, "config", "", "Path to YAML configuration file")
	fs.Usage = func() {
		_, _ = fmt.Fprintln(stderr, "Usage: liveboard-server [-config path]")
		_, _ = fmt.Fprintln(stderr, "Any setting can be overridden by its environment variable, optionally prefixed with LIVEBOARD_.")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	return configFile, nil
}
