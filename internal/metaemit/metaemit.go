// Package metaemit implements the Metadata Emitter (spec §4.5): after
// recursion finishes, it derives the archive's center and geographic
// bounds from the Zoom Recursor's suggested center tile and the ingest
// pass's world-space file bbox, and hands the result to the archive
// writer's Finalize step.
package metaemit

import (
	"github.com/google/uuid"

	"github.com/vtpyramid/vtpyramid/internal/archive"
	"github.com/vtpyramid/vtpyramid/internal/coord"
	"github.com/vtpyramid/vtpyramid/internal/opstream"
	"github.com/vtpyramid/vtpyramid/internal/pyramid"
	"github.com/vtpyramid/vtpyramid/internal/stringpool"
)

// Options carries the run-level naming the CLI gathers (-n, -l) plus the
// zoom range, independent of anything the pipeline computed.
type Options struct {
	Name      string
	LayerName string
	MinZoom   uint8
	MaxZoom   uint8
}

// Emit computes center/bbox and writes the final archive via aw.Finalize.
// generatorID is expected to be freshly minted per run by the caller
// (typically uuid.NewString(), kept out of this function so tests can pass
// a fixed value).
func Emit(aw *archive.Writer, opts Options, fileBbox opstream.BBox, center pyramid.Result, fields *stringpool.Pool, generatorID string) error {
	maxLat, minLon := coord.WorldToLatLon(coord.World{X: fileBbox.MinX, Y: fileBbox.MinY})
	minLat, maxLon := coord.WorldToLatLon(coord.World{X: fileBbox.MaxX, Y: fileBbox.MaxY})

	centerWorld := coord.TileCenterWorld(center.Z, center.X, center.Y)
	centerLat, centerLon := coord.WorldToLatLon(centerWorld)
	centerLat = clamp(centerLat, minLat, maxLat)
	centerLon = clamp(centerLon, minLon, maxLon)

	return aw.Finalize(archive.Meta{
		Name:        opts.Name,
		LayerName:   opts.LayerName,
		MinZoom:     int(opts.MinZoom),
		MaxZoom:     int(opts.MaxZoom),
		MinLon:      minLon,
		MinLat:      minLat,
		MaxLon:      maxLon,
		MaxLat:      maxLat,
		CenterLon:   centerLon,
		CenterLat:   centerLat,
		CenterZoom:  center.Z,
		Fields:      fields.Strings(),
		GeneratorID: generatorID,
	})
}

// NewGeneratorID mints a fresh run identifier, stamped into archive
// metadata so a produced archive can be correlated with its ingest log.
func NewGeneratorID() string {
	return uuid.NewString()
}

func clamp(v, lo, hi float64) float64 {
	if lo > hi {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
