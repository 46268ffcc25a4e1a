package main

import (
	"flag"
	"io"
	"strings"

	"github.com/yegors/atc-scanner/internal/scanner"
)

// options holds the command line. Settings flags only apply when given explicitly.
type options struct {
	configPath string
	start      bool

	volume    float64
	interval  int
	vfrOnly   bool
	geoFilter bool
	airports  string

	set map[string]bool
}

func parseFlags(args []string, output io.Writer) (*options, error) {
	opts := &options{set: make(map[string]bool)}

	fs := flag.NewFlagSet("scanner", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.configPath, "config", "config.toml", "Path to the TOML configuration file")
	fs.BoolVar(&opts.start, "start", false, "Start scanning immediately")
	fs.Float64Var(&opts.volume, "volume", 0.7, "Volume level (0.0-1.0)")
	fs.IntVar(&opts.interval, "interval", 20, "Fetch interval in seconds")
	fs.BoolVar(&opts.vfrOnly, "vfr-only", false, "Only VFR transmissions")
	fs.BoolVar(&opts.geoFilter, "geo-filter", false, "Enable geographic filtering")
	fs.StringVar(&opts.airports, "airports", "", "Comma separated airport codes to always accept")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		opts.set[f.Name] = true
	})

	return opts, nil
}

// settings returns the partial settings document built from explicit flags
func (o *options) settings() map[string]interface{} {
	partial := make(map[string]interface{})

	if o.set["volume"] {
		partial[scanner.KeyVolume] = o.volume
	}
	if o.set["interval"] {
		partial[scanner.KeyFetchInterval] = o.interval
	}
	if o.set["vfr-only"] {
		partial[scanner.KeyVFROnly] = o.vfrOnly
	}
	if o.set["geo-filter"] {
		partial[scanner.KeyGeoFilter] = o.geoFilter
	}
	if o.set["airports"] {
		var airports []string
		for _, a := range strings.Split(o.airports, ",") {
			if a = strings.TrimSpace(a); a != "" {
				airports = append(airports, a)
			}
		}
		partial[scanner.KeyAirports] = airports
	}

	return partial
}
