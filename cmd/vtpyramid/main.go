// Command vtpyramid turns a GeoJSON feature stream into a PMTiles v3
// vector-tile pyramid: spec.md's two-pass ingest/recurse pipeline wired
// into a single CLI entry point, following joeblew999-plat-geo's
// cobra-based command style.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/vtpyramid/vtpyramid/internal/archive"
	"github.com/vtpyramid/vtpyramid/internal/config"
	"github.com/vtpyramid/vtpyramid/internal/diag"
	"github.com/vtpyramid/vtpyramid/internal/ingest"
	"github.com/vtpyramid/vtpyramid/internal/metaemit"
	"github.com/vtpyramid/vtpyramid/internal/pyramid"
	"github.com/vtpyramid/vtpyramid/internal/stringpool"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := config.Defaults()

	cmd := &cobra.Command{
		Use:           "vtpyramid [input.geojson]",
		Short:         "Build a vector-tile pyramid archive from a GeoJSON feature stream",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, &opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.Output, "output", "o", "", "output archive path (required)")
	flags.StringVarP(&opts.Name, "name", "n", "", "archive display name")
	flags.StringVarP(&opts.LayerName, "layer", "l", "", "layer name (default derived from input filename)")
	flags.Uint8VarP(&opts.MaxZoom, "maxzoom", "z", opts.MaxZoom, "max zoom")
	flags.Uint8VarP(&opts.MinZoom, "minzoom", "Z", opts.MinZoom, "min zoom")
	flags.IntVarP(&opts.FullDetail, "full-detail", "d", 0, "full detail at max zoom (default 26-maxzoom)")
	flags.IntVarP(&opts.LowDetail, "low-detail", "D", opts.LowDetail, "reduced detail at lower zooms")
	flags.StringArrayVarP(&opts.Exclude, "exclude", "x", nil, "exclude property (repeatable)")
	flags.StringArrayVarP(&opts.Include, "include", "y", nil, "include-only property (repeatable, implies --exclude-all)")
	flags.BoolVarP(&opts.ExcludeAll, "exclude-all", "X", false, "exclude all properties unless included via -y")
	flags.Float64VarP(&opts.DropRate, "droprate", "r", opts.DropRate, "point drop rate per zoom step")
	flags.Float64VarP(&opts.Buffer, "buffer", "b", opts.Buffer, "tile buffer in pixels")
	flags.BoolVarP(&opts.Force, "force", "f", false, "delete existing output archive first")
	flags.StringVarP(&opts.TmpDir, "tmpdir", "t", opts.TmpDir, "temp directory")
	flags.Int64Var(&opts.Seed, "seed", opts.Seed, "RNG seed for point-drop sampling")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "raise log level to debug")
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "optional YAML config file layering flag defaults")

	cmd.MarkFlagRequired("output")

	return cmd
}

func run(cmd *cobra.Command, args []string, opts *config.Options) error {
	var input io.ReadCloser
	switch len(args) {
	case 0:
		input = io.NopCloser(os.Stdin)
		opts.Input = "<stdin>"
	default:
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening input: %w", err)
		}
		input = f
		opts.Input = args[0]
	}
	defer input.Close()

	if err := applyConfigFile(cmd, opts); err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	opts.Normalize(ingest.DeriveLayerName)

	ctx := diag.New(opts.Seed, opts.Verbose)

	excludeSet := toSet(opts.Exclude)
	includeSet := toSet(opts.Include)

	pool := stringpool.New()
	ingestOpts := ingest.Options{
		Exclude:    excludeSet,
		Include:    includeSet,
		ExcludeAll: opts.ExcludeAll,
		MaxZoom:    opts.MaxZoom,
		DropRate:   opts.DropRate,
	}

	ingested, err := ingest.Run(input, opts.Input, opts.TmpDir, ingestOpts, ctx, pool)
	if err != nil {
		ctx.Fatal("ingest: %v", err)
	}
	defer ingested.MetaFile.Close()

	aw, err := archive.NewWriter(opts.Output, opts.Force)
	if err != nil {
		ctx.Fatal("opening archive: %v", err)
	}

	pyOpts := pyramid.Options{
		MaxZoom:    opts.MaxZoom,
		FullDetail: opts.FullDetail,
		LowDetail:  opts.LowDetail,
		Buffer:     opts.Buffer,
		LayerName:  opts.LayerName,
		TmpDir:     opts.TmpDir,
	}
	center, err := pyramid.Recurse(ingested, pyOpts, aw, ctx)
	if err != nil {
		ctx.Fatal("recursion: %v", err)
	}

	metaOpts := metaemit.Options{
		Name:      opts.Name,
		LayerName: opts.LayerName,
		MinZoom:   opts.MinZoom,
		MaxZoom:   opts.MaxZoom,
	}
	if err := metaemit.Emit(aw, metaOpts, ingested.Bbox, center, pool, metaemit.NewGeneratorID()); err != nil {
		ctx.Fatal("writing archive: %v", err)
	}

	fmt.Fprintf(os.Stdout, "wrote %s: %d features, zoom %d-%d\n", opts.Output, ingested.Features, opts.MinZoom, opts.MaxZoom)
	return nil
}

func applyConfigFile(cmd *cobra.Command, opts *config.Options) error {
	if opts.ConfigPath == "" {
		return nil
	}
	v, err := config.FileValues(opts.ConfigPath)
	if err != nil {
		return err
	}

	changed := cmd.Flags().Changed
	apply := func(flag string, set func()) {
		if !changed(flag) && v.IsSet(flag) {
			set()
		}
	}
	apply("name", func() { opts.Name = v.GetString("name") })
	apply("layer", func() { opts.LayerName = v.GetString("layer") })
	apply("maxzoom", func() { opts.MaxZoom = uint8(v.GetInt("maxzoom")) })
	apply("minzoom", func() { opts.MinZoom = uint8(v.GetInt("minzoom")) })
	apply("full-detail", func() { opts.FullDetail = v.GetInt("full-detail") })
	apply("low-detail", func() { opts.LowDetail = v.GetInt("low-detail") })
	apply("droprate", func() { opts.DropRate = v.GetFloat64("droprate") })
	apply("buffer", func() { opts.Buffer = v.GetFloat64("buffer") })
	apply("force", func() { opts.Force = v.GetBool("force") })
	apply("tmpdir", func() { opts.TmpDir = v.GetString("tmpdir") })
	apply("seed", func() { opts.Seed = v.GetInt64("seed") })
	apply("verbose", func() { opts.Verbose = v.GetBool("verbose") })
	return nil
}

func toSet(keys []string) map[string]bool {
	if len(keys) == 0 {
		return nil
	}
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}
