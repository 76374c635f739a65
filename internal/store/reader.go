package store

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/go-viper/mapstructure/v2"
	"github.com/klauspost/compress/zstd"
)

// Params is the typed view of the provenance attrs block.
type Params struct {
	TimeCreated   string  `mapstructure:"time_created"`
	TimeFinished  string  `mapstructure:"time_finished"`
	ChunkSize     int     `mapstructure:"chunksize"`
	NoopThreshold float64 `mapstructure:"noop_threshold"`
}

// Store is a read handle on a completed store.
type Store struct {
	path  string
	attrs map[string]any
	metas map[string]Meta
}

// Open reads a store's attrs and channel metadata. Chunk data is read
// lazily by Read.
func Open(path string) (*Store, error) {
	attrsData, err := os.ReadFile(filepath.Join(path, attrsFile))
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}
	attrs := map[string]any{}
	if err := json.Unmarshal(attrsData, &attrs); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", attrsFile, err)
	}

	metas := map[string]Meta{}
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != metaFile {
			return nil
		}

		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		var meta Meta
		if err := json.Unmarshal(data, &meta); err != nil {
			return fmt.Errorf("parsing %s: %w", p, err)
		}

		rel, err := filepath.Rel(path, filepath.Dir(p))
		if err != nil {
			return err
		}
		metas[filepath.ToSlash(rel)] = meta
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning store %s: %w", path, err)
	}

	return &Store{path: path, attrs: attrs, metas: metas}, nil
}

// Channels lists channel names in sorted order.
func (s *Store) Channels() []string {
	names := make([]string, 0, len(s.metas))
	for name := range s.metas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Meta returns the metadata for one channel.
func (s *Store) Meta(name string) (Meta, bool) {
	m, ok := s.metas[name]
	return m, ok
}

// Attrs returns the raw attrs block.
func (s *Store) Attrs() map[string]any {
	return s.attrs
}

// Params decodes the attrs block into its typed form.
func (s *Store) Params() (Params, error) {
	var p Params
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &p,
	})
	if err != nil {
		return Params{}, err
	}
	if err := dec.Decode(s.attrs); err != nil {
		return Params{}, fmt.Errorf("decoding attrs: %w", err)
	}
	return p, nil
}

// Read reassembles one channel's full column from its chunks.
func (s *Store) Read(name string) (Column, error) {
	meta, ok := s.metas[name]
	if !ok {
		return nil, fmt.Errorf("no channel %q in store %s", name, s.path)
	}

	var dec *zstd.Decoder
	if meta.Compressor != nil {
		d, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer d.Close()
		dec = d
	}

	dir := filepath.Join(s.path, filepath.FromSlash(name))
	chunks := make([][]byte, 0, meta.NumChunks)
	for i := 0; i < meta.NumChunks; i++ {
		payload, err := os.ReadFile(filepath.Join(dir, strconv.Itoa(i)))
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", name, err)
		}
		raw, err := decodeChunk(payload, meta.Compressor, meta.Dtype, dec)
		if err != nil {
			return nil, fmt.Errorf("channel %s chunk %d: %w", name, i, err)
		}
		chunks = append(chunks, raw)
	}

	col, err := decodeColumn(meta, chunks)
	if err != nil {
		return nil, fmt.Errorf("channel %s: %w", name, err)
	}
	return col, nil
}
