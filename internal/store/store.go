// Package store persists aggregated channels as a chunked, per-channel
// compressed columnar store on the filesystem.
//
// A store is a directory tree. Every channel lives in its own directory
// holding a meta.json (shape, dtype, chunk shape, compressor) and chunk files
// numbered along the leading dimension ("0", "1", ...). Channel names may
// contain slashes ("action/delta"), which nest directories. The store root
// carries an attrs.json key/value block with provenance metadata.
//
// Writes are staged into a ".partial" sibling directory and committed with a
// single rename, so a reader can never observe a half-written store at the
// target path.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"
)

const (
	attrsFile = "attrs.json"
	metaFile  = "meta.json"
)

// ErrExists is returned when the target path is already occupied and
// overwrite was not requested.
var ErrExists = errors.New("store already exists")

// Meta is the persisted description of one channel.
type Meta struct {
	Shape      []int       `json:"shape"`
	Dtype      Dtype       `json:"dtype"`
	Chunks     []int       `json:"chunks"`
	Compressor *Compressor `json:"compressor"`
	NumChunks  int         `json:"nchunks"`
}

// Channel pairs a channel name with its full-shape column.
type Channel struct {
	Name   string
	Column Column
}

// Options configures a store write. All knobs are explicit; nothing is read
// from process-global state.
type Options struct {
	// ChunkSize is the leading-dimension chunk length for every channel.
	ChunkSize int
	// Overwrite allows replacing an existing store at the target path.
	Overwrite bool
	// Workers bounds concurrent channel writes. Zero means one per channel.
	Workers int
	// Policy selects per-channel compression. Nil means DefaultPolicy.
	Policy Policy
	// Attrs are extra key/value pairs recorded in attrs.json alongside the
	// timestamps and chunk size the writer adds itself.
	Attrs map[string]any
	// Progress, when set, is called after each channel finishes writing.
	Progress func(name string)
}

// Write creates a new store at path containing every channel in one pass.
// The full shape of each channel is fixed before any data is written; a
// column whose declared shape disagrees with its data is rejected outright.
func Write(ctx context.Context, path string, channels []Channel, opts Options) error {
	if opts.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", opts.ChunkSize)
	}
	if opts.Policy == nil {
		opts.Policy = DefaultPolicy
	}

	if _, err := os.Stat(path); err == nil {
		if !opts.Overwrite {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking target path: %w", err)
	}

	// Validate every column before a single byte lands on disk.
	for _, ch := range channels {
		if err := ch.Column.Validate(); err != nil {
			return fmt.Errorf("channel %s: %w", ch.Name, err)
		}
	}

	stage := path + ".partial"
	if err := os.RemoveAll(stage); err != nil {
		return fmt.Errorf("clearing stage directory: %w", err)
	}
	if err := os.MkdirAll(stage, 0o755); err != nil {
		return fmt.Errorf("creating stage directory: %w", err)
	}
	defer os.RemoveAll(stage)

	attrs := make(map[string]any, len(opts.Attrs)+3)
	for k, v := range opts.Attrs {
		attrs[k] = v
	}
	attrs["time_created"] = time.Now().Format(time.RFC3339)
	attrs["chunksize"] = opts.ChunkSize
	if err := writeJSON(filepath.Join(stage, attrsFile), attrs); err != nil {
		return err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = len(channels)
	}

	// Channel writes touch disjoint directories, so they run concurrently.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, ch := range channels {
		g.Go(func() error {
			if err := writeChannel(gctx, stage, ch, opts.ChunkSize, opts.Policy(ch.Name, ch.Column)); err != nil {
				return fmt.Errorf("channel %s: %w", ch.Name, err)
			}
			if opts.Progress != nil {
				opts.Progress(ch.Name)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	attrs["time_finished"] = time.Now().Format(time.RFC3339)
	if err := writeJSON(filepath.Join(stage, attrsFile), attrs); err != nil {
		return err
	}

	if opts.Overwrite {
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("removing previous store: %w", err)
		}
	}
	if err := os.Rename(stage, path); err != nil {
		return fmt.Errorf("committing store: %w", err)
	}
	return nil
}

func writeChannel(ctx context.Context, root string, ch Channel, chunkSize int, comp *Compressor) error {
	col := ch.Column

	// Shuffle is meaningless for variable-width elements.
	if comp != nil && elemSize(col.Dtype()) == 0 {
		c := *comp
		c.Shuffle = false
		comp = &c
	}

	rows := col.Rows()
	nchunks := (rows + chunkSize - 1) / chunkSize

	chunkShape := append([]int{chunkSize}, col.Shape()[1:]...)
	meta := Meta{
		Shape:      col.Shape(),
		Dtype:      col.Dtype(),
		Chunks:     chunkShape,
		Compressor: comp,
		NumChunks:  nchunks,
	}

	dir := filepath.Join(root, filepath.FromSlash(ch.Name))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, metaFile), meta); err != nil {
		return err
	}

	var enc *zstd.Encoder
	if comp != nil {
		e, err := newEncoder(comp.Level)
		if err != nil {
			return err
		}
		defer e.Close()
		enc = e
	}

	for i := 0; i < nchunks; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lo := i * chunkSize
		hi := min(lo+chunkSize, rows)
		raw, err := col.encodeRows(lo, hi)
		if err != nil {
			return fmt.Errorf("chunk %d: %w", i, err)
		}

		payload, err := encodeChunk(raw, comp, col.Dtype(), enc)
		if err != nil {
			return fmt.Errorf("chunk %d: %w", i, err)
		}
		if err := os.WriteFile(filepath.Join(dir, strconv.Itoa(i)), payload, 0o644); err != nil {
			return fmt.Errorf("chunk %d: %w", i, err)
		}
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}
