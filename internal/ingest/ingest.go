// Package ingest implements the Feature Ingestor (spec §4.3): it drives a
// streaming encoding/json.Decoder over a GeoJSON document (a top-level
// FeatureCollection or a bare concatenation of Feature objects), validates
// and filters each feature, and writes the geom/meta temp-file pair that
// internal/pyramid consumes level by level.
//
// Memory for a feature collection of any size stays bounded: the decoder
// only ever materializes one Feature object at a time (see parseDocument),
// never the whole "features" array — the whole point of not reaching for
// github.com/paulmach/orb/geojson's UnmarshalFeatureCollection, which would
// load the entire document up front.
package ingest

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/vtpyramid/vtpyramid/internal/diag"
	"github.com/vtpyramid/vtpyramid/internal/opstream"
	"github.com/vtpyramid/vtpyramid/internal/recfmt"
	"github.com/vtpyramid/vtpyramid/internal/stringpool"
	"github.com/vtpyramid/vtpyramid/internal/tempfile"
)

// ErrEmptyInput is returned when ingest produced zero features — spec §7's
// "did not read any valid geometries" boundary case. Callers translate it
// to a fatal exit; the package itself never calls os.Exit, so tests can
// observe it as an ordinary error.
var ErrEmptyInput = errors.New("did not read any valid geometries")

// PropType is a meta-file property value's wire type.
type PropType int32

const (
	PropString PropType = iota
	PropNumber
	PropBoolean
)

// Property is one key/value pair of a feature's filtered attributes,
// already reduced to the meta file's textual wire form.
type Property struct {
	Type  PropType
	Key   string
	Value string
}

// Options configures property filtering and per-feature minzoom, mirroring
// the -x/-y/-X/-z/-r CLI flags (spec §6).
type Options struct {
	Exclude    map[string]bool
	Include    map[string]bool
	ExcludeAll bool
	MaxZoom    uint8
	DropRate   float64
}

func (o Options) keep(key string) bool {
	if o.ExcludeAll {
		return o.Include[key]
	}
	return !o.Exclude[key]
}

// Result is everything the Zoom Recursor needs to start level 0.
type Result struct {
	GeomFile *os.File
	MetaFile *os.File
	Bbox     opstream.BBox
	Features int
}

type ioFatalError struct{ err error }

func (e *ioFatalError) Error() string { return e.err.Error() }
func (e *ioFatalError) Unwrap() error { return e.err }

// Run parses r (a GeoJSON document attributed to fname in diagnostics) and
// writes the initial geom/meta temp-file pair in tmpDir. A malformed-JSON
// error ends the parse loop without aborting: whatever was ingested before
// the error is preserved and recursion still proceeds on it, per spec
// §4.6. Only genuine filesystem errors and ErrEmptyInput are returned.
func Run(r io.Reader, fname, tmpDir string, opts Options, ctx *diag.Context, pool *stringpool.Pool) (*Result, error) {
	geomFile, err := tempfile.New(tmpDir, "geom*")
	if err != nil {
		return nil, fmt.Errorf("creating geom temp file: %w", err)
	}
	metaFile, err := tempfile.New(tmpDir, "meta*")
	if err != nil {
		geomFile.Close()
		return nil, fmt.Errorf("creating meta temp file: %w", err)
	}

	gw := bufio.NewWriter(geomFile)
	mw := bufio.NewWriter(metaFile)

	if err := recfmt.WriteTileHeader(gw, recfmt.TileHeader{Z: 0, X: 0, Y: 0}); err != nil {
		return nil, fmt.Errorf("writing root tile header: %w", err)
	}

	ing := &ingestor{
		gw:       gw,
		mw:       mw,
		opts:     opts,
		ctx:      ctx,
		pool:     pool,
		fname:    fname,
		fileBbox: opstream.NewBBox(),
	}

	dec := json.NewDecoder(r)
	parseErr := parseDocument(dec, func(obj map[string]interface{}) error {
		ing.idx++
		return ing.processFeature(obj)
	})
	if parseErr != nil {
		var fatal *ioFatalError
		if errors.As(parseErr, &fatal) {
			return nil, fatal.err
		}
		ctx.Skip(fname, ing.idx, fmt.Sprintf("JSON parse error, stopping ingest: %v", parseErr))
	}

	if err := recfmt.WriteEndOfLevel(gw); err != nil {
		return nil, fmt.Errorf("writing end-of-level: %w", err)
	}
	if err := gw.Flush(); err != nil {
		return nil, fmt.Errorf("flushing geom file: %w", err)
	}
	if err := mw.Flush(); err != nil {
		return nil, fmt.Errorf("flushing meta file: %w", err)
	}

	if ing.features == 0 || !ing.fileBbox.Touched() {
		geomFile.Close()
		metaFile.Close()
		return nil, ErrEmptyInput
	}

	if _, err := geomFile.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewinding geom file: %w", err)
	}

	return &Result{
		GeomFile: geomFile,
		MetaFile: metaFile,
		Bbox:     ing.fileBbox,
		Features: ing.features,
	}, nil
}

// ingestor holds per-run mutable state threaded through feature processing.
type ingestor struct {
	gw       *bufio.Writer
	mw       *bufio.Writer
	metaPos  int64
	opts     Options
	ctx      *diag.Context
	pool     *stringpool.Pool
	fname    string
	idx      int
	fileBbox opstream.BBox
	features int
}

// processFeature implements spec §4.3's validation and record emission for
// a single decoded Feature object. Validation failures are logged and
// skipped in place (returning nil); a coordinates array nested other than
// its kind requires is logged, and the positions serialized before the
// fault are kept. Only write failures propagate as a wrapped
// *ioFatalError.
func (ing *ingestor) processFeature(obj map[string]interface{}) error {
	if typ, _ := obj["type"].(string); typ != "Feature" {
		return nil
	}

	geomRaw, hasGeom := obj["geometry"]
	if !hasGeom || geomRaw == nil {
		ing.ctx.WarnNullGeometry(ing.fname, ing.idx)
		return nil
	}
	geomObj, ok := geomRaw.(map[string]interface{})
	if !ok {
		ing.ctx.Skip(ing.fname, ing.idx, "geometry is not an object")
		return nil
	}
	kindStr, ok := geomObj["type"].(string)
	if !ok {
		ing.ctx.Skip(ing.fname, ing.idx, "geometry.type missing or not a string")
		return nil
	}
	coordsRaw, hasCoords := geomObj["coordinates"]
	coordsArr, coordsOK := coordsRaw.([]interface{})
	if !hasCoords || !coordsOK {
		ing.ctx.Skip(ing.fname, ing.idx, "geometry.coordinates is not an array")
		return nil
	}
	kind, ok := opstream.ParseKind(kindStr)
	if !ok {
		ing.ctx.Skip(ing.fname, ing.idx, fmt.Sprintf("unknown geometry kind %q", kindStr))
		return nil
	}

	var propsMap map[string]interface{}
	if propsRaw, hasProps := obj["properties"]; hasProps && propsRaw != nil {
		m, ok := propsRaw.(map[string]interface{})
		if !ok {
			ing.ctx.Skip(ing.fname, ing.idx, "properties is not a mapping")
			return nil
		}
		propsMap = m
	}

	props := ing.filterProperties(propsMap)

	metastart := ing.metaPos
	n, err := writeProperties(ing.mw, props)
	if err != nil {
		return &ioFatalError{fmt.Errorf("writing property record: %w", err)}
	}
	ing.metaPos += n

	prim := opstream.PrimitiveOf(kind)
	if err := recfmt.WriteFeatureHeader(ing.gw, recfmt.FeatureHeader{Kind: prim, MetaOffset: metastart}); err != nil {
		return &ioFatalError{fmt.Errorf("writing feature header: %w", err)}
	}

	bbox := opstream.NewBBox()
	if err := opstream.Encode(ing.gw, kind, coordsArr, &bbox, ing.ctx, ing.fname, ing.idx); err != nil {
		// Wrong coordinate nesting is a feature-level failure: log it, keep
		// the ops already written and close the record normally. A write
		// error on gw is sticky, so it still surfaces from WriteEnd below.
		ing.ctx.Skip(ing.fname, ing.idx, fmt.Sprintf("malformed geometry: %v", err))
	}
	if err := opstream.WriteEnd(ing.gw); err != nil {
		return &ioFatalError{fmt.Errorf("writing end op: %w", err)}
	}

	var minzoom int8
	if prim == opstream.PrimPoint {
		minzoom = pointMinzoom(ing.ctx, ing.opts.MaxZoom, ing.opts.DropRate)
	} else {
		minzoom = bboxMinzoom(bbox)
	}
	if err := recfmt.WriteMinzoom(ing.gw, minzoom); err != nil {
		return &ioFatalError{fmt.Errorf("writing minzoom: %w", err)}
	}

	ing.fileBbox.Union(bbox)
	ing.features++
	return nil
}

// filterProperties applies the exclude/include/exclude-all rule (spec
// §4.3), drops nulls silently, warns and drops unsupported value kinds,
// and interns every surviving key into the attribute dictionary. Keys are
// sorted for deterministic record order (Go map iteration order is not
// stable, and spec §9's reproducibility goal extends naturally to this).
func (ing *ingestor) filterProperties(m map[string]interface{}) []Property {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []Property
	for _, k := range keys {
		if !ing.opts.keep(k) {
			continue
		}
		v := m[k]
		if v == nil {
			continue
		}
		switch vv := v.(type) {
		case string:
			out = append(out, Property{Type: PropString, Key: k, Value: vv})
		case float64:
			out = append(out, Property{Type: PropNumber, Key: k, Value: strconv.FormatFloat(vv, 'g', -1, 64)})
		case bool:
			s := "false"
			if vv {
				s = "true"
			}
			out = append(out, Property{Type: PropBoolean, Key: k, Value: s})
		default:
			ing.ctx.Skip(ing.fname, ing.idx, fmt.Sprintf("property %q has unsupported type, dropped", k))
			continue
		}
		ing.pool.Intern(k)
	}
	return out
}

// pointMinzoom implements spec §4.3's probabilistic point-drop rule.
func pointMinzoom(ctx *diag.Context, maxzoom uint8, droprate float64) int8 {
	r := ctx.Float64()
	if r <= 0 {
		r = 1e-9
	}
	k := math.Floor(math.Log(r) / -math.Log(droprate))
	mz := int(maxzoom) - int(k)
	if mz < 0 {
		mz = 0
	}
	if mz > int(maxzoom) {
		mz = int(maxzoom)
	}
	return int8(mz)
}

// bboxMinzoom implements spec §4.3's LINE minzoom rule (and, per the
// resolved Open Question documented in DESIGN.md, POLYGON as well): the
// smallest z at which the bbox's min and max corners disagree in the top
// (z+1) bits of X or Y — the zoom at which the feature first spans more
// than one tile. A bbox whose corners never differ (a single position)
// gets 31.
func bboxMinzoom(b opstream.BBox) int8 {
	if !b.Touched() {
		return 0
	}
	for z := 0; z <= 31; z++ {
		shift := uint(32 - (z + 1))
		if (b.MinX>>shift) != (b.MaxX>>shift) || (b.MinY>>shift) != (b.MaxY>>shift) {
			return int8(z)
		}
	}
	return 31
}

// writeProperties serializes props in the meta file's wire format: i32
// n_props, then { i32 type; string key; string value } per property.
// Strings are length-prefixed (length includes a trailing NUL) rather
// than NUL-scanned on read, since the length is already known at write
// time and this keeps ReadProperties a single bounded read per field.
func writeProperties(w *bufio.Writer, props []Property) (int64, error) {
	var n int64
	if err := writeUint32(w, uint32(len(props))); err != nil {
		return n, err
	}
	n += 4
	for _, p := range props {
		if err := writeUint32(w, uint32(p.Type)); err != nil {
			return n, err
		}
		n += 4
		wn, err := writeString(w, p.Key)
		if err != nil {
			return n, err
		}
		n += wn
		wn, err = writeString(w, p.Value)
		if err != nil {
			return n, err
		}
		n += wn
	}
	return n, nil
}

func writeString(w *bufio.Writer, s string) (int64, error) {
	if err := writeUint32(w, uint32(len(s)+1)); err != nil {
		return 0, err
	}
	if _, err := w.WriteString(s); err != nil {
		return 0, err
	}
	if err := w.WriteByte(0); err != nil {
		return 0, err
	}
	return int64(4 + len(s) + 1), nil
}

func writeUint32(w *bufio.Writer, n uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], n)
	_, err := w.Write(buf[:])
	return err
}

// ReadProperties decodes a property record at offset, for random access
// into the meta file from internal/pyramid once a geom record's
// MetaOffset is known. The meta file persists as a single *os.File across
// the whole recursion (spec §3 Lifecycles), so this reads via ReadAt
// without disturbing any other reader's file position.
func ReadProperties(ra io.ReaderAt, offset int64) ([]Property, error) {
	c := &cursor{ra: ra, pos: offset}
	n, err := readUint32(c)
	if err != nil {
		return nil, err
	}
	props := make([]Property, 0, n)
	for i := uint32(0); i < n; i++ {
		t, err := readUint32(c)
		if err != nil {
			return nil, err
		}
		key, err := readString(c)
		if err != nil {
			return nil, err
		}
		val, err := readString(c)
		if err != nil {
			return nil, err
		}
		props = append(props, Property{Type: PropType(t), Key: key, Value: val})
	}
	return props, nil
}

type cursor struct {
	ra  io.ReaderAt
	pos int64
}

func (c *cursor) Read(p []byte) (int, error) {
	n, err := c.ra.ReadAt(p, c.pos)
	c.pos += int64(n)
	return n, err
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func readString(r io.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf[:len(buf)-1]), nil
}

// parseDocument streams features out of r one at a time via onFeature,
// accepting either a top-level FeatureCollection object or a bare
// concatenation of Feature objects (spec §6 Input). Only the object
// currently being decoded is ever resident in memory.
func parseDocument(dec *json.Decoder, onFeature func(map[string]interface{}) error) error {
	for dec.More() {
		if err := parseTopLevelValue(dec, onFeature); err != nil {
			return err
		}
	}
	return nil
}

func parseTopLevelValue(dec *json.Decoder, onFeature func(map[string]interface{}) error) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return nil
	}
	if delim == '[' {
		return skipArray(dec)
	}
	if delim != '{' {
		return nil
	}

	obj := make(map[string]interface{})
	isCollection := false
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		if key == "features" {
			isCollection = true
			if err := parseFeaturesArray(dec, onFeature); err != nil {
				return err
			}
			continue
		}
		var v interface{}
		if err := dec.Decode(&v); err != nil {
			return err
		}
		obj[key] = v
	}
	if _, err := dec.Token(); err != nil { // closing '}'
		return err
	}
	if !isCollection {
		return onFeature(obj)
	}
	return nil
}

func parseFeaturesArray(dec *json.Decoder, onFeature func(map[string]interface{}) error) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return fmt.Errorf(`"features" is not an array`)
	}
	for dec.More() {
		var v interface{}
		if err := dec.Decode(&v); err != nil {
			return err
		}
		if m, ok := v.(map[string]interface{}); ok {
			if err := onFeature(m); err != nil {
				return err
			}
		}
	}
	_, err = dec.Token() // closing ']'
	return err
}

func skipArray(dec *json.Decoder) error {
	for dec.More() {
		var v interface{}
		if err := dec.Decode(&v); err != nil {
			return err
		}
	}
	_, err := dec.Token()
	return err
}

// DeriveLayerName implements the -l default (spec §6): the input
// filename's basename, stripping a .json or .mbtiles suffix and every
// non-alphanumeric character.
func DeriveLayerName(filename string) string {
	base := filepath.Base(filename)
	lower := strings.ToLower(base)
	for _, suf := range []string{".json", ".mbtiles"} {
		if strings.HasSuffix(lower, suf) {
			base = base[:len(base)-len(suf)]
			break
		}
	}
	var b strings.Builder
	for _, r := range base {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "layer"
	}
	return b.String()
}
