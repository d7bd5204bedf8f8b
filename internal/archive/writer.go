package archive

import (
	"bytes"
	"fmt"
	"os"
	"sort"
)

// Meta is the archive-level metadata the Metadata Emitter (spec §4.5)
// hands to Finalize.
type Meta struct {
	Name       string
	LayerName  string
	MinZoom    int
	MaxZoom    int
	MinLon     float64
	MinLat     float64
	MaxLon     float64
	MaxLat     float64
	CenterLon  float64
	CenterLat  float64
	CenterZoom uint8
	Fields     []string // attribute dictionary, in first-seen order
	GeneratorID string
}

type tileEntry struct {
	id   uint64
	data []byte
}

// Writer accumulates encoded tiles as the Zoom Recursor visits cells and
// writes a single PMTiles v3 archive on Finalize. Tiles may be Put in any
// order; Finalize sorts them by Hilbert tile ID for a clustered archive, as
// required by the format (and as gotiler.go's one-shot writePMTiles did for
// its in-memory tile map — this just accepts tiles incrementally instead of
// requiring the whole map upfront).
type Writer struct {
	path    string
	force   bool
	entries []tileEntry
	seen    map[uint64]bool
}

// NewWriter prepares a writer for path. If force is set, any pre-existing
// file at path is removed eagerly so a failed run doesn't leave a stale
// output behind silently.
func NewWriter(path string, force bool) (*Writer, error) {
	if force {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("removing existing archive: %w", err)
		}
	}
	return &Writer{path: path, seen: make(map[uint64]bool)}, nil
}

// Put records the encoded tile for (z,x,y). Empty blobs are not persisted.
func (w *Writer) Put(z uint8, x, y uint32, data []byte) {
	if len(data) == 0 {
		return
	}
	id := ZxyToID(z, x, y)
	if w.seen[id] {
		return
	}
	w.seen[id] = true
	w.entries = append(w.entries, tileEntry{id: id, data: data})
}

// Len reports how many tiles have been Put so far.
func (w *Writer) Len() int { return len(w.entries) }

// Finalize writes the archive to disk and closes it out. Returns an error
// if no tiles were ever Put.
func (w *Writer) Finalize(meta Meta) error {
	if len(w.entries) == 0 {
		return fmt.Errorf("archive %s: no tiles to write", w.path)
	}

	sort.Slice(w.entries, func(i, j int) bool { return w.entries[i].id < w.entries[j].id })

	var entries []EntryV3
	var tileData bytes.Buffer
	offset := uint64(0)
	for _, te := range w.entries {
		entries = append(entries, EntryV3{
			TileID:    te.id,
			Offset:    offset,
			Length:    uint32(len(te.data)),
			RunLength: 1,
		})
		tileData.Write(te.data)
		offset += uint64(len(te.data))
	}

	metadata := map[string]interface{}{
		"name":        meta.Name,
		"layer":       meta.LayerName,
		"format":      "pbf",
		"compression": "gzip",
		"minzoom":     meta.MinZoom,
		"maxzoom":     meta.MaxZoom,
		"bounds":      fmt.Sprintf("%f,%f,%f,%f", meta.MinLon, meta.MinLat, meta.MaxLon, meta.MaxLat),
		"center":      fmt.Sprintf("%f,%f,%d", meta.CenterLon, meta.CenterLat, meta.CenterZoom),
		"generator":   "vtpyramid",
		"generator_id": meta.GeneratorID,
		"vector_layers": []map[string]interface{}{
			{
				"id":     meta.LayerName,
				"fields": fieldsMap(meta.Fields),
			},
		},
	}
	metadataBytes, err := SerializeMetadata(metadata, Gzip)
	if err != nil {
		return fmt.Errorf("serializing metadata: %w", err)
	}

	rootDirBytes := SerializeEntries(entries, Gzip)

	headerSize := uint64(HeaderV3LenBytes)
	rootDirOffset := headerSize
	rootDirLen := uint64(len(rootDirBytes))
	metadataOffset := rootDirOffset + rootDirLen
	metadataLen := uint64(len(metadataBytes))
	tileDataOffset := metadataOffset + metadataLen
	tileDataLen := uint64(tileData.Len())

	header := HeaderV3{
		SpecVersion:         3,
		RootOffset:          rootDirOffset,
		RootLength:          rootDirLen,
		MetadataOffset:      metadataOffset,
		MetadataLength:      metadataLen,
		LeafDirectoryOffset: 0,
		LeafDirectoryLength: 0,
		TileDataOffset:      tileDataOffset,
		TileDataLength:      tileDataLen,
		AddressedTilesCount: uint64(len(entries)),
		TileEntriesCount:    uint64(len(entries)),
		TileContentsCount:   uint64(len(entries)),
		Clustered:           true,
		InternalCompression: Gzip,
		TileCompression:     Gzip,
		TileType:            Mvt,
		MinZoom:             uint8(meta.MinZoom),
		MaxZoom:             uint8(meta.MaxZoom),
		MinLonE7:            int32(meta.MinLon * 1e7),
		MinLatE7:            int32(meta.MinLat * 1e7),
		MaxLonE7:            int32(meta.MaxLon * 1e7),
		MaxLatE7:            int32(meta.MaxLat * 1e7),
		CenterZoom:          meta.CenterZoom,
		CenterLonE7:         int32(meta.CenterLon * 1e7),
		CenterLatE7:         int32(meta.CenterLat * 1e7),
	}
	headerBytes := SerializeHeader(header)

	f, err := os.Create(w.path)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, chunk := range [][]byte{headerBytes, rootDirBytes, metadataBytes, tileData.Bytes()} {
		if _, err := f.Write(chunk); err != nil {
			return err
		}
	}
	return nil
}

func fieldsMap(fields []string) map[string]string {
	m := make(map[string]string, len(fields))
	for _, f := range fields {
		m[f] = "String"
	}
	return m
}
