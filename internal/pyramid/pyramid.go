// Package pyramid implements the Zoom Recursor (spec §4.4): the iterative,
// level-by-level subdivision pass that turns the Feature Ingestor's level-0
// geom stream into a finished tile at every visited (z, x, y) cell.
//
// At any level, up to four geom streams are live at once — not one per
// parent tile, but four buckets shared across the whole level, indexed by
// each child tile's parity relative to its parent ((childX&1, childY&1)
// takes all four combinations exactly once per parent, so every parent's
// four children land in four different buckets, and every bucket
// accumulates one run per parent tile that reached it). This is what
// keeps peak open-file count at four regardless of how many tiles a level
// actually contains (spec §9 Design Notes).
package pyramid

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/vtpyramid/vtpyramid/internal/archive"
	"github.com/vtpyramid/vtpyramid/internal/diag"
	"github.com/vtpyramid/vtpyramid/internal/ingest"
	"github.com/vtpyramid/vtpyramid/internal/opstream"
	"github.com/vtpyramid/vtpyramid/internal/recfmt"
	"github.com/vtpyramid/vtpyramid/internal/tempfile"
	"github.com/vtpyramid/vtpyramid/internal/vtencode"
)

// Options configures recursion, mirroring the -z/-d/-D/-b CLI flags.
type Options struct {
	MaxZoom    uint8
	FullDetail int
	LowDetail  int
	// Buffer is in pixels relative to a conventional 256px tile, matching
	// the original CLI's -b semantics; converted to world-grid units per
	// level since the world grid, not a fixed pixel size, is this
	// pipeline's native coordinate space.
	Buffer    float64
	LayerName string
	TmpDir    string
}

// Result is the suggested center tile, per spec §4.5.
type Result struct {
	Z uint8
	X uint32
	Y uint32
}

// Recurse drives the level-0..MaxZoom subdivision loop, writing one tile
// per visited cell to aw. ing.MetaFile is read (never written) throughout;
// ing.GeomFile is consumed as level 0's sole populated input stream.
func Recurse(ing *ingest.Result, opts Options, aw *archive.Writer, ctx *diag.Context) (Result, error) {
	var current [4]*os.File
	current[0] = ing.GeomFile

	var best struct {
		size int
		x, y uint32
		set  bool
	}

	for z := uint8(0); z <= opts.MaxZoom; z++ {
		lastLevel := z == opts.MaxZoom
		detail := opts.LowDetail
		if lastLevel {
			detail = opts.FullDetail
		}

		var childFiles [4]*os.File
		var childWriters [4]*bufio.Writer
		if !lastLevel {
			for i := 0; i < 4; i++ {
				f, err := tempfile.New(opts.TmpDir, fmt.Sprintf("geom%d*", i))
				if err != nil {
					return Result{}, fmt.Errorf("creating level %d quadrant %d temp file: %w", z+1, i, err)
				}
				childFiles[i] = f
				childWriters[i] = bufio.NewWriter(f)
			}
		}

		for slot := 0; slot < 4; slot++ {
			src := current[slot]
			if src == nil {
				continue
			}
			if err := processStream(src, z, lastLevel, detail, opts, ing, aw, ctx, childWriters[:], &best); err != nil {
				return Result{}, err
			}
			src.Close()
		}

		if lastLevel {
			break
		}

		for i := 0; i < 4; i++ {
			if err := recfmt.WriteEndOfLevel(childWriters[i]); err != nil {
				return Result{}, fmt.Errorf("writing level %d quadrant %d end marker: %w", z+1, i, err)
			}
			if err := childWriters[i].Flush(); err != nil {
				return Result{}, fmt.Errorf("flushing level %d quadrant %d: %w", z+1, i, err)
			}
			if _, err := childFiles[i].Seek(0, io.SeekStart); err != nil {
				return Result{}, fmt.Errorf("rewinding level %d quadrant %d: %w", z+1, i, err)
			}
			current[i] = childFiles[i]
		}
	}

	if !best.set {
		return Result{Z: opts.MaxZoom, X: 0, Y: 0}, nil
	}
	return Result{Z: opts.MaxZoom, X: best.x, Y: best.y}, nil
}

// tileAccum is the per-tile state accumulated while iterating one input
// stream's records, flushed to the tile writer whenever a new header (or
// end of stream) closes out the run.
type tileAccum struct {
	tile    recfmt.TileHeader
	have    bool
	draw    []vtencode.Feature
	childXY [4][2]uint32
	written [4]bool
}

func processStream(
	src *os.File,
	z uint8,
	lastLevel bool,
	detail int,
	opts Options,
	ing *ingest.Result,
	aw *archive.Writer,
	ctx *diag.Context,
	childWriters []*bufio.Writer,
	best *struct {
		size int
		x, y uint32
		set  bool
	},
) error {
	reader := recfmt.NewReader(src)
	var acc tileAccum

	flush := func() error {
		if !acc.have {
			return nil
		}
		data, err := vtencode.Encode(z, acc.tile.X, acc.tile.Y, detail, opts.LayerName, acc.draw)
		if err != nil {
			return fmt.Errorf("encoding tile %d/%d/%d: %w", z, acc.tile.X, acc.tile.Y, err)
		}
		aw.Put(z, acc.tile.X, acc.tile.Y, data)
		if lastLevel && len(data) > 0 {
			if !best.set || len(data) > best.size {
				best.size = len(data)
				best.x = acc.tile.X
				best.y = acc.tile.Y
				best.set = true
			}
		}
		return nil
	}

	for {
		rec, err := reader.Next()
		if err == io.EOF {
			if ferr := flush(); ferr != nil {
				return ferr
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading level %d geom stream: %w", z, err)
		}

		if rec.IsTileHeader {
			if err := flush(); err != nil {
				return err
			}
			acc = tileAccum{tile: rec.Tile, have: true}
			if !lastLevel {
				acc.childXY = childTiles(rec.Tile.X, rec.Tile.Y)
			}
			continue
		}

		bbox := opstream.BBoxOf(rec.Ops)
		draw := rec.MinZoom <= int8(z)

		if draw {
			geom, err := opstream.ToGeometry(rec.Feature.Kind, rec.Ops)
			if err == nil {
				props, perr := ingest.ReadProperties(ing.MetaFile, rec.Feature.MetaOffset)
				if perr == nil {
					acc.draw = append(acc.draw, vtencode.Feature{
						Geometry:   geom,
						Properties: propsToMap(props),
					})
				} else {
					ctx.Skip("", int(z), fmt.Sprintf("reading properties at offset %d: %v", rec.Feature.MetaOffset, perr))
				}
			}
		}

		if lastLevel {
			continue
		}

		for i := 0; i < 4; i++ {
			if !bboxIntersectsChild(bbox, z, acc.childXY[i], opts.Buffer) {
				continue
			}
			w := childWriters[i]
			if !acc.written[i] {
				if err := recfmt.WriteTileHeader(w, recfmt.TileHeader{Z: z + 1, X: acc.childXY[i][0], Y: acc.childXY[i][1]}); err != nil {
					return fmt.Errorf("writing child tile header: %w", err)
				}
				acc.written[i] = true
			}
			if err := recfmt.WriteFeatureHeader(w, rec.Feature); err != nil {
				return fmt.Errorf("forwarding feature header: %w", err)
			}
			if err := opstream.WriteRecords(w, rec.Ops); err != nil {
				return fmt.Errorf("forwarding feature ops: %w", err)
			}
			if err := opstream.WriteEnd(w); err != nil {
				return fmt.Errorf("forwarding feature end: %w", err)
			}
			if err := recfmt.WriteMinzoom(w, rec.MinZoom); err != nil {
				return fmt.Errorf("forwarding feature minzoom: %w", err)
			}
		}
	}
}

func childTiles(x, y uint32) [4][2]uint32 {
	return [4][2]uint32{
		{2 * x, 2 * y},
		{2*x + 1, 2 * y},
		{2 * x, 2*y + 1},
		{2*x + 1, 2*y + 1},
	}
}

// bboxIntersectsChild implements spec §8 invariant 3: a feature is
// dispatched to child quadrant q iff its bbox, expanded by buffer pixels,
// intersects q's geographic extent. Pixels are relative to a conventional
// 256-unit tile, matching tippecanoe's -b convention, converted here into
// world-grid units at the child's own zoom.
func bboxIntersectsChild(bbox opstream.BBox, parentZ uint8, child [2]uint32, bufferPixels float64) bool {
	childZ := uint(parentZ) + 1
	shift := uint(32) - childZ
	tileWidth := int64(1) << shift
	bufWorld := int64(bufferPixels / 256.0 * float64(tileWidth))

	minX := int64(child[0]) * tileWidth
	maxX := minX + tileWidth
	minY := int64(child[1]) * tileWidth
	maxY := minY + tileWidth

	eMinX, eMaxX := minX-bufWorld, maxX+bufWorld
	eMinY, eMaxY := minY-bufWorld, maxY+bufWorld

	fMinX, fMaxX := int64(bbox.MinX), int64(bbox.MaxX)
	fMinY, fMaxY := int64(bbox.MinY), int64(bbox.MaxY)

	return fMinX <= eMaxX && fMaxX >= eMinX && fMinY <= eMaxY && fMaxY >= eMinY
}

func propsToMap(props []ingest.Property) map[string]interface{} {
	m := make(map[string]interface{}, len(props))
	for _, p := range props {
		switch p.Type {
		case ingest.PropNumber:
			if f, err := strconv.ParseFloat(p.Value, 64); err == nil {
				m[p.Key] = f
			} else {
				m[p.Key] = p.Value
			}
		case ingest.PropBoolean:
			m[p.Key] = p.Value == "true"
		default:
			m[p.Key] = p.Value
		}
	}
	return m
}
