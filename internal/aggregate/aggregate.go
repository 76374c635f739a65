// Package aggregate fans the episode decoder out over every selected demo
// file and folds the results into full-shape contiguous channels ready for
// one-pass columnar storage.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/robopack/robopack/internal/episode"
	"github.com/robopack/robopack/internal/geometry"
	"github.com/robopack/robopack/internal/store"
)

// Input identifies one demo file to decode: its filesystem path and the
// provenance-relative path recorded in the output store.
type Input struct {
	Path   string
	Source string
}

// Options configures an aggregation run. All knobs are explicit; nothing is
// read from process-global state.
type Options struct {
	// Workers bounds the decode pool. Zero means runtime.NumCPU().
	Workers int
	// NoopThreshold is passed through to the decoder and recorded in the
	// store attrs. It currently excludes nothing.
	NoopThreshold float64
}

// EventType identifies a progress event during aggregation.
type EventType string

const (
	EventStart       EventType = "start"
	EventEpisodeDone EventType = "episode_done"
	EventComplete    EventType = "complete"
)

// ProgressEvent is a progress update emitted during aggregation.
type ProgressEvent struct {
	EventType EventType
	Source    string
	Length    int
	Completed int
	Total     int
}

// ProgressListener receives progress updates.
type ProgressListener func(event ProgressEvent)

// Aggregator decodes episodes concurrently and accumulates them in
// completion order.
type Aggregator struct {
	workers int
	noop    float64

	progressMu sync.Mutex
	listeners  []ProgressListener

	// decode is swappable for tests.
	decode func(path, source string, noopThreshold float64) (*episode.Decoded, error)
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithDecodeFunc replaces the episode decoder. Tests use this to inject
// failures without crafting corrupt files.
func WithDecodeFunc(fn func(path, source string, noopThreshold float64) (*episode.Decoded, error)) Option {
	return func(a *Aggregator) {
		a.decode = fn
	}
}

// New creates an Aggregator.
func New(opts Options, options ...Option) *Aggregator {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	a := &Aggregator{
		workers: workers,
		noop:    opts.NoopThreshold,
		decode:  episode.DecodeFile,
	}
	for _, o := range options {
		o(a)
	}
	return a
}

// OnProgress registers a progress listener.
func (a *Aggregator) OnProgress(listener ProgressListener) {
	a.progressMu.Lock()
	defer a.progressMu.Unlock()
	a.listeners = append(a.listeners, listener)
}

func (a *Aggregator) notifyProgress(event ProgressEvent) {
	a.progressMu.Lock()
	listeners := make([]ProgressListener, len(a.listeners))
	copy(listeners, a.listeners)
	a.progressMu.Unlock()

	for _, listener := range listeners {
		listener(event)
	}
}

// Run decodes every input on a bounded worker pool and returns the folded
// dataset. Episodes land in completion order, which is run-dependent;
// consumers index through episode_ends, never input order. The first decode
// failure cancels outstanding work and aborts the run with no partial
// output.
func (a *Aggregator) Run(ctx context.Context, inputs []Input) (*Dataset, error) {
	if len(inputs) == 0 {
		return nil, errors.New("no episodes to aggregate")
	}

	a.notifyProgress(ProgressEvent{EventType: EventStart, Total: len(inputs)})

	var (
		mu  sync.Mutex
		acc = newAccumulator(len(inputs))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for _, in := range inputs {
		g.Go(func() error {
			// A failure elsewhere cancels the group context; tasks not yet
			// started bail here, tasks already decoding run to completion
			// and their results are discarded with the dataset.
			if err := gctx.Err(); err != nil {
				return err
			}

			dec, err := a.decode(in.Path, in.Source, a.noop)
			if err != nil {
				return err
			}

			mu.Lock()
			err = acc.fold(dec)
			completed := acc.episodes()
			mu.Unlock()
			if err != nil {
				return err
			}

			a.notifyProgress(ProgressEvent{
				EventType: EventEpisodeDone,
				Source:    in.Source,
				Length:    dec.Length,
				Completed: completed,
				Total:     len(inputs),
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	a.notifyProgress(ProgressEvent{EventType: EventComplete, Total: len(inputs)})
	return acc.finish()
}

// accumulator grows per-channel sequences as episodes complete. All access
// happens under the caller's fold mutex.
type accumulator struct {
	robotState  []float32
	image1      []byte
	image2      []byte
	actionDelta []float32
	actionPos   []float32
	reward      []float32
	skill       []float32

	episodeEnds []uint32
	furniture   []string
	success     []byte
	sources     []string

	imageHeight int
	imageWidth  int
}

func newAccumulator(episodes int) *accumulator {
	return &accumulator{
		episodeEnds: make([]uint32, 0, episodes),
		furniture:   make([]string, 0, episodes),
		success:     make([]byte, 0, episodes),
		sources:     make([]string, 0, episodes),
	}
}

func (acc *accumulator) episodes() int {
	return len(acc.episodeEnds)
}

func (acc *accumulator) fold(dec *episode.Decoded) error {
	if acc.episodes() == 0 {
		acc.imageHeight = dec.ImageHeight
		acc.imageWidth = dec.ImageWidth
	} else if dec.ImageHeight != acc.imageHeight || dec.ImageWidth != acc.imageWidth {
		return fmt.Errorf("episode %s: image shape %dx%d differs from dataset %dx%d",
			dec.Source, dec.ImageHeight, dec.ImageWidth, acc.imageHeight, acc.imageWidth)
	}

	acc.robotState = append(acc.robotState, dec.RobotState...)
	acc.image1 = append(acc.image1, dec.Image1...)
	acc.image2 = append(acc.image2, dec.Image2...)
	acc.actionDelta = append(acc.actionDelta, dec.ActionDelta...)
	acc.actionPos = append(acc.actionPos, dec.ActionPos...)
	acc.reward = append(acc.reward, dec.Reward...)
	acc.skill = append(acc.skill, dec.Skill...)

	lastEnd := uint32(0)
	if n := len(acc.episodeEnds); n > 0 {
		lastEnd = acc.episodeEnds[n-1]
	}
	acc.episodeEnds = append(acc.episodeEnds, lastEnd+uint32(dec.Length))

	acc.furniture = append(acc.furniture, dec.Furniture)
	if dec.Success {
		acc.success = append(acc.success, 1)
	} else {
		acc.success = append(acc.success, 0)
	}
	acc.sources = append(acc.sources, dec.Source)
	return nil
}

func (acc *accumulator) finish() (*Dataset, error) {
	timesteps := int(acc.episodeEnds[len(acc.episodeEnds)-1])
	episodes := acc.episodes()

	ds := &Dataset{
		Episodes:  episodes,
		Timesteps: timesteps,

		RobotState:  store.NewFloat32Column(acc.robotState, timesteps, geometry.StateSixWidth),
		ColorImage1: store.NewUint8Column(acc.image1, timesteps, acc.imageHeight, acc.imageWidth, 3),
		ColorImage2: store.NewUint8Column(acc.image2, timesteps, acc.imageHeight, acc.imageWidth, 3),
		ActionDelta: store.NewFloat32Column(acc.actionDelta, timesteps, geometry.ActionSixWidth),
		ActionPos:   store.NewFloat32Column(acc.actionPos, timesteps, geometry.PoseWidth),
		Reward:      store.NewFloat32Column(acc.reward, timesteps),
		Skill:       store.NewFloat32Column(acc.skill, timesteps),
		EpisodeEnds: store.NewUint32Column(acc.episodeEnds, episodes),
		Furniture:   store.NewStringColumn(acc.furniture),
		Success:     store.NewUint8Column(acc.success, episodes),
		SourceFiles: store.NewStringColumn(acc.sources),
	}

	for _, ch := range ds.Channels() {
		if err := ch.Column.Validate(); err != nil {
			return nil, fmt.Errorf("aggregated channel %s: %w", ch.Name, err)
		}
	}
	return ds, nil
}
