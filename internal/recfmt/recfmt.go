// Package recfmt defines the on-disk geom temp-file record format
// shared by the Feature Ingestor (internal/ingest, which writes the
// initial level-0 stream) and the Zoom Recursor (internal/pyramid, which
// reads and rewrites a stream once per level) — spec.md §3 Data Model.
//
// Every record in a geom stream begins with a tag int32 occupying the same
// slot spec.md calls "i32 geom_kind (or the sentinel -2 = end-of-level, or
// tile header)": a non-negative value is a feature record's geometry kind,
// TagEndOfLevel (-2) terminates the stream, and TagTileHeader (-1) — the
// third alternative the spec's parenthetical names but leaves unnumbered —
// introduces a tile header. This resolves unambiguously on read without
// needing the reader to infer record type from context, which is what the
// original C implementation's external (and here out-of-scope) tile writer
// had to do.
package recfmt

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vtpyramid/vtpyramid/internal/opstream"
)

const (
	// TagTileHeader marks a (z, x, y) tile header record.
	TagTileHeader int32 = -1
	// TagEndOfLevel terminates a level's geom stream.
	TagEndOfLevel int32 = -2
)

// TileHeader marks the start of a run of feature records belonging to
// tile (Z, X, Y).
type TileHeader struct {
	Z uint8
	X uint32
	Y uint32
}

// FeatureHeader is a feature record's fixed prefix, before its op stream.
type FeatureHeader struct {
	Kind       opstream.Primitive
	MetaOffset int64
}

// WriteTileHeader appends a tile header record.
func WriteTileHeader(w *bufio.Writer, h TileHeader) error {
	if err := writeInt32(w, TagTileHeader); err != nil {
		return err
	}
	if err := writeInt32(w, int32(h.Z)); err != nil {
		return err
	}
	if err := writeUint32(w, h.X); err != nil {
		return err
	}
	return writeUint32(w, h.Y)
}

// WriteEndOfLevel appends the end-of-level sentinel.
func WriteEndOfLevel(w *bufio.Writer) error {
	return writeInt32(w, TagEndOfLevel)
}

// WriteFeatureHeader appends a feature record's prefix. The caller is
// responsible for writing the op stream (opstream.Encode), the END op, and
// the trailing minzoom byte, in that order, per spec §4.3 steps 2-6.
func WriteFeatureHeader(w *bufio.Writer, h FeatureHeader) error {
	if err := writeInt32(w, int32(h.Kind)); err != nil {
		return err
	}
	return writeInt64(w, h.MetaOffset)
}

// WriteMinzoom appends the trailing minzoom byte of a feature record.
func WriteMinzoom(w *bufio.Writer, minzoom int8) error {
	return w.WriteByte(byte(minzoom))
}

// Record is one decoded geom-stream record: either a TileHeader (Feature
// is the zero value) or a feature (TileHeader is the zero value).
type Record struct {
	IsTileHeader bool
	IsEnd        bool
	Tile         TileHeader
	Feature      FeatureHeader
	Ops          []opstream.Record
	MinZoom      int8
}

// Reader decodes a sequence of geom-stream records.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r for sequential record decoding.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next reads the next record. It returns io.EOF when the stream is
// exhausted, treating either a genuine EOF or an explicit TagEndOfLevel
// sentinel as the end of the stream.
func (d *Reader) Next() (Record, error) {
	tag, err := readInt32(d.r)
	if err != nil {
		return Record{}, err
	}

	switch {
	case tag == TagEndOfLevel:
		return Record{IsEnd: true}, io.EOF
	case tag == TagTileHeader:
		z, err := readInt32(d.r)
		if err != nil {
			return Record{}, err
		}
		x, err := readUint32(d.r)
		if err != nil {
			return Record{}, err
		}
		y, err := readUint32(d.r)
		if err != nil {
			return Record{}, err
		}
		return Record{IsTileHeader: true, Tile: TileHeader{Z: uint8(z), X: x, Y: y}}, nil
	case tag >= 0:
		metaOffset, err := readInt64(d.r)
		if err != nil {
			return Record{}, err
		}
		ops, err := opstream.Decode(d.r)
		if err != nil {
			return Record{}, fmt.Errorf("decoding ops: %w", err)
		}
		mz, err := d.r.ReadByte()
		if err != nil {
			return Record{}, err
		}
		return Record{
			Feature: FeatureHeader{Kind: opstream.Primitive(tag), MetaOffset: metaOffset},
			Ops:     ops,
			MinZoom: int8(mz),
		}, nil
	default:
		return Record{}, fmt.Errorf("unrecognized record tag %d", tag)
	}
}

func writeInt32(w *bufio.Writer, n int32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(n))
	_, err := w.Write(buf[:])
	return err
}

func writeUint32(w *bufio.Writer, n uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], n)
	_, err := w.Write(buf[:])
	return err
}

func writeInt64(w *bufio.Writer, n int64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(n))
	_, err := w.Write(buf[:])
	return err
}

func readInt32(r io.Reader) (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func readInt64(r io.Reader) (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(buf[:])), nil
}
