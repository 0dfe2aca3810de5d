// Package config loads CLI defaults from an INI file, the same format the
// RP1210 vendor driver's own configuration uses.
package config

import (
	"strconv"
	"time"

	"gopkg.in/ini.v1"
)

// Defaults holds the values the CLI falls back to when a flag is not given
// explicitly.
type Defaults struct {
	SourceAddress      uint8
	DestinationAddress uint8
	Timeout            time.Duration
	Connection         string
	Verbose            bool
}

// Default returns the built-in defaults matching the CLI's documented
// flag defaults.
func Default() Defaults {
	return Defaults{
		SourceAddress:      0xF9,
		DestinationAddress: 0xFF,
		Timeout:            2 * time.Second,
		Connection:         "sim",
	}
}

// Load reads section [cantp] of path over the built-in defaults. Missing
// keys keep their default value; a missing file is not an error.
func Load(path string) (Defaults, error) {
	d := Default()
	cfg, err := ini.LooseLoad(path)
	if err != nil {
		return d, err
	}
	section := cfg.Section("cantp")

	if key := section.Key("sa"); key.String() != "" {
		v, err := strconv.ParseUint(key.String(), 0, 8)
		if err != nil {
			return d, err
		}
		d.SourceAddress = uint8(v)
	}
	if key := section.Key("da"); key.String() != "" {
		v, err := strconv.ParseUint(key.String(), 0, 8)
		if err != nil {
			return d, err
		}
		d.DestinationAddress = uint8(v)
	}
	if key := section.Key("timeout_ms"); key.String() != "" {
		v, err := key.Int()
		if err != nil {
			return d, err
		}
		d.Timeout = time.Duration(v) * time.Millisecond
	}
	if key := section.Key("connection"); key.String() != "" {
		d.Connection = key.String()
	}
	d.Verbose = section.Key("verbose").MustBool(false)
	return d, nil
}
