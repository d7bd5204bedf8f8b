// Package opstream implements the Geometry Serializer (spec §4.2): it walks
// a decoded GeoJSON coordinate tree for one of the six geometry kinds and
// emits a flat stream of (op, x, y) triples, and on the decode side
// reconstructs an orb.Geometry from a stored op stream so the tile encoder
// (internal/vtencode) can hand it to orb/encoding/mvt.
package opstream

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/vtpyramid/vtpyramid/internal/coord"
	"github.com/vtpyramid/vtpyramid/internal/diag"
)

// Op is a drawing instruction. MoveTo and LineTo carry a world coordinate;
// ClosePath and End do not.
type Op byte

const (
	MoveTo Op = iota
	LineTo
	ClosePath
	End
)

// Kind is one of the six GeoJSON geometry kinds.
type Kind int

const (
	Point Kind = iota
	MultiPoint
	LineString
	MultiLineString
	Polygon
	MultiPolygon
)

var kindNames = map[string]Kind{
	"Point":            Point,
	"MultiPoint":       MultiPoint,
	"LineString":       LineString,
	"MultiLineString":  MultiLineString,
	"Polygon":          Polygon,
	"MultiPolygon":     MultiPolygon,
}

// ParseKind maps a GeoJSON geometry.type string to a Kind.
func ParseKind(s string) (Kind, bool) {
	k, ok := kindNames[s]
	return k, ok
}

// Primitive is the vector-tile primitive a Kind collapses to.
type Primitive byte

const (
	PrimPoint Primitive = iota
	PrimLine
	PrimPolygon
)

// PrimitiveOf returns the vector-tile primitive for a GeoJSON geometry kind.
func PrimitiveOf(k Kind) Primitive {
	switch k {
	case Point, MultiPoint:
		return PrimPoint
	case LineString, MultiLineString:
		return PrimLine
	default:
		return PrimPolygon
	}
}

// BBox accumulates a bounding box over emitted world coordinates.
type BBox struct {
	MinX, MinY uint32
	MaxX, MaxY uint32
	touched    bool
}

// NewBBox returns an empty bbox ready for Expand.
func NewBBox() BBox {
	return BBox{MinX: math.MaxUint32, MinY: math.MaxUint32, MaxX: 0, MaxY: 0}
}

// Expand folds w into the bbox.
func (b *BBox) Expand(w coord.World) {
	b.touched = true
	if w.X < b.MinX {
		b.MinX = w.X
	}
	if w.Y < b.MinY {
		b.MinY = w.Y
	}
	if w.X > b.MaxX {
		b.MaxX = w.X
	}
	if w.Y > b.MaxY {
		b.MaxY = w.Y
	}
}

// Touched reports whether Expand was ever called.
func (b *BBox) Touched() bool { return b.touched }

// Union folds other into b.
func (b *BBox) Union(other BBox) {
	if !other.touched {
		return
	}
	b.Expand(coord.World{X: other.MinX, Y: other.MinY})
	b.Expand(coord.World{X: other.MaxX, Y: other.MaxY})
}

// Encode walks coords (the decoded "coordinates" array of a feature's
// geometry) according to kind, writing (op, x, y) triples to w and folding
// every emitted coordinate into bbox. Malformed positions are logged and
// skipped without aborting the feature; extra ordinates beyond two are
// silently discarded after a single process-wide warning (ctx).
func Encode(w *bufio.Writer, kind Kind, coords interface{}, bbox *BBox, ctx *diag.Context, fname string, line int) error {
	switch kind {
	case Point:
		return encodePosition(w, coords, bbox, ctx, fname, line, MoveTo)
	case MultiPoint:
		return encodePositions(w, coords, bbox, ctx, fname, line)
	case LineString:
		return encodeRing(w, coords, bbox, ctx, fname, line, false)
	case MultiLineString:
		return encodeRings(w, coords, bbox, ctx, fname, line, false)
	case Polygon:
		return encodeRings(w, coords, bbox, ctx, fname, line, true)
	case MultiPolygon:
		polys, ok := coords.([]interface{})
		if !ok {
			return fmt.Errorf("%s:%d: expected array for MultiPolygon", fname, line)
		}
		for _, p := range polys {
			if err := encodeRings(w, p, bbox, ctx, fname, line, true); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%s:%d: unknown geometry kind", fname, line)
	}
}

// encodePositions writes each element of coords as its own MOVETO point
// (used for MultiPoint).
func encodePositions(w *bufio.Writer, coords interface{}, bbox *BBox, ctx *diag.Context, fname string, line int) error {
	arr, ok := coords.([]interface{})
	if !ok {
		return fmt.Errorf("%s:%d: expected array", fname, line)
	}
	for _, pos := range arr {
		if err := encodePosition(w, pos, bbox, ctx, fname, line, MoveTo); err != nil {
			return err
		}
	}
	return nil
}

// encodeRing writes one line/ring: first position MOVETO, rest LINETO, and
// if closePath is true appends CLOSEPATH when any ops were emitted.
func encodeRing(w *bufio.Writer, coords interface{}, bbox *BBox, ctx *diag.Context, fname string, line int, closePath bool) error {
	arr, ok := coords.([]interface{})
	if !ok {
		return fmt.Errorf("%s:%d: expected array", fname, line)
	}
	wrote := false
	for i, pos := range arr {
		op := LineTo
		if i == 0 {
			op = MoveTo
		}
		ok, err := encodePositionChecked(w, pos, bbox, ctx, fname, line, op)
		if err != nil {
			return err
		}
		if ok {
			wrote = true
		}
	}
	if closePath && wrote {
		return writeOp(w, ClosePath, coord.World{})
	}
	return nil
}

// encodeRings writes each element of coords as its own ring via encodeRing.
func encodeRings(w *bufio.Writer, coords interface{}, bbox *BBox, ctx *diag.Context, fname string, line int, closePath bool) error {
	arr, ok := coords.([]interface{})
	if !ok {
		return fmt.Errorf("%s:%d: expected array", fname, line)
	}
	for _, ring := range arr {
		if err := encodeRing(w, ring, bbox, ctx, fname, line, closePath); err != nil {
			return err
		}
	}
	return nil
}

func encodePosition(w *bufio.Writer, pos interface{}, bbox *BBox, ctx *diag.Context, fname string, line int, op Op) error {
	_, err := encodePositionChecked(w, pos, bbox, ctx, fname, line, op)
	return err
}

// encodePositionChecked returns ok=false (and no error) for a malformed
// position, which spec §4.2 says to log and skip without aborting.
func encodePositionChecked(w *bufio.Writer, pos interface{}, bbox *BBox, ctx *diag.Context, fname string, line int, op Op) (bool, error) {
	arr, ok := pos.([]interface{})
	if !ok || len(arr) < 2 {
		ctx.Skip(fname, line, "malformed point")
		return false, nil
	}
	lon, ok1 := toFloat(arr[0])
	lat, ok2 := toFloat(arr[1])
	if !ok1 || !ok2 {
		ctx.Skip(fname, line, "malformed point")
		return false, nil
	}
	if len(arr) > 2 {
		ctx.WarnExtraDimensions(fname, line)
	}

	w32 := coord.LatLonToWorld(lat, lon)
	bbox.Expand(w32)

	if err := writeOp(w, op, w32); err != nil {
		return false, err
	}
	return true, nil
}

func toFloat(v interface{}) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

// WriteEnd appends the END op that terminates a feature's drawing-op
// stream (spec §4.3 step 5), after the Geometry Serializer has written its
// MOVETO/LINETO/CLOSEPATH ops.
func WriteEnd(w *bufio.Writer) error {
	return writeOp(w, End, coord.World{})
}

func writeOp(w *bufio.Writer, op Op, pt coord.World) error {
	if err := w.WriteByte(byte(op)); err != nil {
		return err
	}
	if op == MoveTo || op == LineTo {
		var buf [8]byte
		binary.LittleEndian.PutUint32(buf[0:4], pt.X)
		binary.LittleEndian.PutUint32(buf[4:8], pt.Y)
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
	}
	return nil
}

// Record is a single decoded drawing instruction.
type Record struct {
	Op Op
	Pt coord.World
}

// Decode reads ops from r until it consumes an End marker (inclusive),
// returning every op read before it (MoveTo/LineTo/ClosePath).
func Decode(r io.ByteReader) ([]Record, error) {
	var out []Record
	for {
		b, err := r.ReadByte()
		if err != nil {
			return out, err
		}
		op := Op(b)
		if op == End {
			return out, nil
		}
		rec := Record{Op: op}
		if op == MoveTo || op == LineTo {
			var buf [8]byte
			for i := range buf {
				bb, err := r.ReadByte()
				if err != nil {
					return out, err
				}
				buf[i] = bb
			}
			rec.Pt = coord.World{
				X: binary.LittleEndian.Uint32(buf[0:4]),
				Y: binary.LittleEndian.Uint32(buf[4:8]),
			}
		}
		out = append(out, rec)
	}
}

// WriteRecords re-emits a previously decoded op sequence (not including
// the terminating END op) to w, byte-for-byte equivalent to encoding it
// fresh. The Zoom Recursor uses this to forward a feature, unmodified,
// into a child quadrant's geom stream without reconstructing and
// re-serializing an orb.Geometry for features it isn't drawing this level.
func WriteRecords(w *bufio.Writer, recs []Record) error {
	for _, r := range recs {
		if err := writeOp(w, r.Op, r.Pt); err != nil {
			return err
		}
	}
	return nil
}

// BBoxOf recomputes the bounding box of a decoded op sequence. The geom
// stream stores no per-feature bbox (spec §3); the Zoom Recursor
// re-derives one from a feature's ops each time it needs one for a
// quadrant-intersection test.
func BBoxOf(recs []Record) BBox {
	b := NewBBox()
	for _, r := range recs {
		if r.Op == MoveTo || r.Op == LineTo {
			b.Expand(r.Pt)
		}
	}
	return b
}

// ToGeometry reconstructs an orb.Geometry from a decoded op stream given
// the vector-tile primitive it was encoded as. World coordinates are
// converted back to lon/lat degrees (orb works in geographic space; tile
// projection happens later, in internal/vtencode, via orb/maptile).
func ToGeometry(prim Primitive, recs []Record) (orb.Geometry, error) {
	switch prim {
	case PrimPoint:
		return pointGeometry(recs), nil
	case PrimLine:
		return lineGeometry(recs), nil
	case PrimPolygon:
		return polygonGeometry(recs), nil
	default:
		return nil, fmt.Errorf("unknown primitive %d", prim)
	}
}

func toPoint(w coord.World) orb.Point {
	lat, lon := coord.WorldToLatLon(w)
	return orb.Point{lon, lat}
}

func pointGeometry(recs []Record) orb.Geometry {
	var pts orb.MultiPoint
	for _, r := range recs {
		if r.Op == MoveTo {
			pts = append(pts, toPoint(r.Pt))
		}
	}
	if len(pts) == 1 {
		return pts[0]
	}
	return pts
}

// splitMoveTo groups records into runs, each starting at a MoveTo.
func splitMoveTo(recs []Record) []orb.LineString {
	var lines []orb.LineString
	var cur orb.LineString
	for _, r := range recs {
		switch r.Op {
		case MoveTo:
			if len(cur) > 0 {
				lines = append(lines, cur)
			}
			cur = orb.LineString{toPoint(r.Pt)}
		case LineTo:
			cur = append(cur, toPoint(r.Pt))
		case ClosePath:
			if len(cur) > 0 {
				lines = append(lines, cur)
				cur = nil
			}
		}
	}
	if len(cur) > 0 {
		lines = append(lines, cur)
	}
	return lines
}

func lineGeometry(recs []Record) orb.Geometry {
	lines := splitMoveTo(recs)
	if len(lines) == 1 {
		return lines[0]
	}
	mls := make(orb.MultiLineString, len(lines))
	for i, l := range lines {
		mls[i] = l
	}
	return mls
}

// polygonGeometry groups the decoded rings into polygons using the
// standard ring-orientation convention: the first ring of a new polygon is
// whichever orientation the very first ring in the stream has (its
// "outer" sign); subsequent rings of the opposite sign are holes of the
// current polygon, and a ring matching the outer sign starts a new
// polygon. This is the same grouping rule used when decoding a raw
// vector-tile ring list (no Polygon/MultiPolygon tag survives encoding —
// spec §3 collapses both to the single POLYGON primitive) back into
// GeoJSON-shaped geometry.
func polygonGeometry(recs []Record) orb.Geometry {
	lines := splitMoveTo(recs)
	if len(lines) == 0 {
		return orb.Polygon{}
	}

	rings := make([]orb.Ring, len(lines))
	for i, l := range lines {
		rings[i] = orb.Ring(l)
	}

	outerSign := sign(planar.Area(rings[0]))

	var polys orb.MultiPolygon
	var cur orb.Polygon
	for _, ring := range rings {
		if len(cur) == 0 || sign(planar.Area(ring)) == outerSign {
			if len(cur) > 0 {
				polys = append(polys, cur)
			}
			cur = orb.Polygon{ring}
		} else {
			cur = append(cur, ring)
		}
	}
	if len(cur) > 0 {
		polys = append(polys, cur)
	}

	if len(polys) == 1 {
		return polys[0]
	}
	return polys
}

func sign(f float64) int {
	if f < 0 {
		return -1
	}
	return 1
}
