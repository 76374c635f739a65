package aggregate

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robopack/robopack/internal/episode"
	"github.com/robopack/robopack/internal/geometry"
)

// fakeDecoded builds a decoder output of n timesteps without touching disk.
func fakeDecoded(n int, furniture, source string, success bool) *episode.Decoded {
	const h, w = 2, 2
	return &episode.Decoded{
		RobotState:  make([]float32, n*geometry.StateSixWidth),
		Image1:      make([]byte, n*h*w*3),
		Image2:      make([]byte, n*h*w*3),
		ImageHeight: h,
		ImageWidth:  w,
		ActionDelta: make([]float32, n*geometry.ActionSixWidth),
		ActionPos:   make([]float32, n*geometry.PoseWidth),
		Reward:      make([]float32, n),
		Skill:       make([]float32, n),
		Length:      n,
		Furniture:   furniture,
		Success:     success,
		Source:      source,
	}
}

// fakeDecoder serves canned episodes keyed by path.
func fakeDecoder(byPath map[string]*episode.Decoded) func(path, source string, noop float64) (*episode.Decoded, error) {
	return func(path, source string, _ float64) (*episode.Decoded, error) {
		dec, ok := byPath[path]
		if !ok {
			return nil, fmt.Errorf("decoding %s: no such episode", source)
		}
		return dec, nil
	}
}

func TestRun_TwoEpisodes(t *testing.T) {
	byPath := map[string]*episode.Decoded{
		"a": fakeDecoded(5, "chair", "a.demo.zst", true),
		"b": fakeDecoded(3, "lamp", "b.demo.zst", false),
	}
	agg := New(Options{Workers: 2}, WithDecodeFunc(fakeDecoder(byPath)))

	ds, err := agg.Run(context.Background(), []Input{
		{Path: "a", Source: "a.demo.zst"},
		{Path: "b", Source: "b.demo.zst"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, ds.Episodes)
	assert.Equal(t, 8, ds.Timesteps)

	// Whatever the completion order, offsets are strictly increasing and
	// the final end equals the total timestep count.
	ends := ds.EpisodeEnds.Data()
	require.Len(t, ends, 2)
	assert.Less(t, ends[0], ends[1])
	assert.Equal(t, uint32(8), ends[1])

	// Per-episode channels follow the same completion order as the ends.
	lengths := map[string]uint32{"chair": 5, "lamp": 3}
	prev := uint32(0)
	for i, furniture := range ds.Furniture.Data() {
		assert.Equal(t, lengths[furniture], ends[i]-prev)
		prev = ends[i]
	}

	assert.Equal(t, [3]int{8, 2, 2}, [3]int{ds.ColorImage1.Shape()[0], ds.ColorImage1.Shape()[1], ds.ColorImage1.Shape()[2]})
	assert.Len(t, ds.Success.Data(), 2)
	assert.Len(t, ds.SourceFiles.Data(), 2)
}

func TestRun_ChannelShapes(t *testing.T) {
	byPath := map[string]*episode.Decoded{"a": fakeDecoded(4, "desk", "a", true)}
	agg := New(Options{Workers: 1}, WithDecodeFunc(fakeDecoder(byPath)))

	ds, err := agg.Run(context.Background(), []Input{{Path: "a", Source: "a"}})
	require.NoError(t, err)

	assert.Equal(t, []int{4, 16}, ds.RobotState.Shape())
	assert.Equal(t, []int{4, 10}, ds.ActionDelta.Shape())
	assert.Equal(t, []int{4, 9}, ds.ActionPos.Shape())
	assert.Equal(t, []int{4}, ds.Reward.Shape())
	assert.Equal(t, []int{4}, ds.Skill.Shape())
	assert.Equal(t, []int{1}, ds.EpisodeEnds.Shape())
}

func TestRun_ManyEpisodes_EndsConsistent(t *testing.T) {
	byPath := map[string]*episode.Decoded{}
	var inputs []Input
	total := 0
	for i := 0; i < 40; i++ {
		n := i%7 + 1
		total += n
		path := fmt.Sprintf("ep-%02d", i)
		byPath[path] = fakeDecoded(n, fmt.Sprintf("task-%d", n), path, true)
		inputs = append(inputs, Input{Path: path, Source: path})
	}

	agg := New(Options{Workers: 8}, WithDecodeFunc(fakeDecoder(byPath)))
	ds, err := agg.Run(context.Background(), inputs)
	require.NoError(t, err)

	ends := ds.EpisodeEnds.Data()
	require.Len(t, ends, 40)
	prev := uint32(0)
	for _, end := range ends {
		assert.Greater(t, end, prev)
		prev = end
	}
	assert.Equal(t, uint32(total), ends[39])
	assert.Equal(t, total, ds.Timesteps)
	assert.Len(t, ds.Furniture.Data(), 40)
	assert.Len(t, ds.SourceFiles.Data(), 40)
}

func TestRun_FailFast(t *testing.T) {
	byPath := map[string]*episode.Decoded{
		"a": fakeDecoded(5, "chair", "a", true),
		// "bad" is absent: the fake decoder fails on it.
		"c": fakeDecoded(3, "lamp", "c", true),
	}
	agg := New(Options{Workers: 1}, WithDecodeFunc(fakeDecoder(byPath)))

	ds, err := agg.Run(context.Background(), []Input{
		{Path: "a", Source: "a"},
		{Path: "bad", Source: "bad.demo.zst"},
		{Path: "c", Source: "c"},
	})
	require.Error(t, err)
	assert.Nil(t, ds)
	assert.Contains(t, err.Error(), "bad.demo.zst")
}

func TestRun_NoInputs(t *testing.T) {
	agg := New(Options{})
	_, err := agg.Run(context.Background(), nil)
	assert.Error(t, err)
}

func TestRun_ImageShapeMismatch(t *testing.T) {
	small := fakeDecoded(2, "chair", "small", true)
	big := fakeDecoded(2, "chair", "big", true)
	big.ImageHeight = 8
	big.Image1 = make([]byte, 2*8*2*3)
	big.Image2 = make([]byte, 2*8*2*3)

	agg := New(Options{Workers: 1}, WithDecodeFunc(fakeDecoder(map[string]*episode.Decoded{
		"small": small,
		"big":   big,
	})))

	_, err := agg.Run(context.Background(), []Input{
		{Path: "small", Source: "small"},
		{Path: "big", Source: "big"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image shape")
}

func TestRun_ProgressEvents(t *testing.T) {
	byPath := map[string]*episode.Decoded{
		"a": fakeDecoded(2, "chair", "a", true),
		"b": fakeDecoded(2, "chair", "b", true),
	}
	agg := New(Options{Workers: 2}, WithDecodeFunc(fakeDecoder(byPath)))

	var (
		mu     sync.Mutex
		events []ProgressEvent
	)
	agg.OnProgress(func(event ProgressEvent) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	})

	_, err := agg.Run(context.Background(), []Input{{Path: "a", Source: "a"}, {Path: "b", Source: "b"}})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 4)
	assert.Equal(t, EventStart, events[0].EventType)
	assert.Equal(t, EventEpisodeDone, events[1].EventType)
	assert.Equal(t, EventEpisodeDone, events[2].EventType)
	assert.Equal(t, EventComplete, events[3].EventType)
	assert.Equal(t, 2, events[2].Completed)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	agg := New(Options{Workers: 1}, WithDecodeFunc(fakeDecoder(map[string]*episode.Decoded{
		"a": fakeDecoded(2, "chair", "a", true),
	})))

	_, err := agg.Run(ctx, []Input{{Path: "a", Source: "a"}})
	assert.ErrorIs(t, err, context.Canceled)
}

// Real files end to end: decode through the episode codec rather than the
// injected fake.
func TestRun_RealFiles(t *testing.T) {
	dir := t.TempDir()

	write := func(name string, n int, furniture string) Input {
		path := filepath.Join(dir, name)
		raw := realRaw(n, furniture)
		require.NoError(t, episode.WriteFile(path, raw))
		return Input{Path: path, Source: name}
	}

	inputs := []Input{
		write("one"+episode.Extension, 5, "chair"),
		write("two"+episode.Extension, 3, "lamp"),
	}

	agg := New(Options{Workers: 2})
	ds, err := agg.Run(context.Background(), inputs)
	require.NoError(t, err)
	assert.Equal(t, 8, ds.Timesteps)
	assert.Equal(t, 2, ds.Episodes)
}

func TestRun_RealFiles_CorruptAborts(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good"+episode.Extension)
	require.NoError(t, episode.WriteFile(good, realRaw(2, "chair")))

	bad := filepath.Join(dir, "bad"+episode.Extension)
	require.NoError(t, writeGarbage(bad))

	agg := New(Options{Workers: 2})
	_, err := agg.Run(context.Background(), []Input{
		{Path: good, Source: "good"},
		{Path: bad, Source: "bad"},
	})
	require.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled), "original failure must surface, not the cancellation")
}
