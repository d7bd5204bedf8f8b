// Package config holds the converter's run options (the CLI surface of
// spec §6) and an optional YAML config-file layer underneath them, via
// github.com/spf13/viper + gopkg.in/yaml.v3. Flags remain the source of
// truth: cmd/vtpyramid only consults a config file for flags the user
// never set.
package config

import (
	"os"

	"github.com/spf13/viper"

	"github.com/vtpyramid/vtpyramid/internal/diag"
)

// Options is the full set of run parameters, one field per CLI flag in
// spec §6 plus the additive --seed/--verbose/--config flags.
type Options struct {
	Input      string
	Output     string
	Name       string
	LayerName  string
	MaxZoom    uint8
	MinZoom    uint8
	FullDetail int
	LowDetail  int
	Exclude    []string
	Include    []string
	ExcludeAll bool
	DropRate   float64
	Buffer     float64
	Force      bool
	TmpDir     string
	Seed       int64
	Verbose    bool
	ConfigPath string
}

// Defaults returns the built-in defaults from spec §6's CLI table.
func Defaults() Options {
	return Options{
		MaxZoom:  14,
		MinZoom:  0,
		LowDetail: 10,
		DropRate: 2.5,
		Buffer:   5,
		TmpDir:   os.TempDir(),
		Seed:     diag.DefaultSeed,
	}
}

// Normalize fills derived defaults that depend on other fields: -d's
// default of 26-maxzoom (spec §8 invariant 5), -l's filename-derived
// default, which the caller supplies via deriveLayerName since
// internal/config does not import internal/ingest (no layering concern
// should need the opposite direction either), and -y's implication of -X
// (spec §6: "-y K include-only property K (repeatable, implies
// exclude-all)").
func (o *Options) Normalize(deriveLayerName func(string) string) {
	if o.FullDetail == 0 {
		o.FullDetail = 26 - int(o.MaxZoom)
	}
	if o.LayerName == "" && o.Input != "" {
		o.LayerName = deriveLayerName(o.Input)
	}
	if len(o.Include) > 0 {
		o.ExcludeAll = true
	}
}

// FileValues reads a YAML config file's top-level keys into a generic map
// for cmd/vtpyramid to selectively apply to any flag the user left at its
// built-in default. Keys follow the flag's long name; cmd/vtpyramid applies
// name, layer, maxzoom, minzoom, full-detail, low-detail, droprate, buffer,
// force, tmpdir, seed and verbose. The exclude, include and exclude-all
// flags are not read from the file.
func FileValues(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("VTPYRAMID")
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return v, nil
}
