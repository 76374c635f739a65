package episode

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robopack/robopack/internal/geometry"
)

const (
	testImageHeight = 4
	testImageWidth  = 5
)

// makeFrame returns a deterministic base64 frame for observation index i.
func makeFrame(i int) string {
	frame := make([]byte, testImageHeight*testImageWidth*3)
	for j := range frame {
		frame[j] = byte((i*7 + j) % 256)
	}
	return base64.StdEncoding.EncodeToString(frame)
}

// makeRaw builds a well-formed episode with n action steps (n+1 observations).
func makeRaw(n int, furniture string, success bool) *Raw {
	raw := &Raw{
		Furniture:   furniture,
		Success:     success,
		ImageHeight: testImageHeight,
		ImageWidth:  testImageWidth,
	}
	for i := 0; i <= n; i++ {
		raw.Observations = append(raw.Observations, Observation{
			ColorImage1: makeFrame(i),
			ColorImage2: makeFrame(i + 100),
			RobotState: RobotState{
				EEPos:        []float32{0.4, 0.1, float32(i) * 0.01},
				EEQuat:       []float32{0, 0, 0, 1},
				EEPosVel:     []float32{0.1, 0, 0},
				EEOriVel:     []float32{0, 0.1, 0},
				GripperWidth: 0.05,
			},
		})
	}
	for i := 0; i < n; i++ {
		raw.Actions = append(raw.Actions, []float32{0.01, 0, 0, 0, 0, 0, 1, float32(i % 2)})
		raw.Rewards = append(raw.Rewards, float32(i))
		raw.Skills = append(raw.Skills, 0)
	}
	return raw
}

// writeRawDoc writes an arbitrary document as a zstd-compressed demo file,
// bypassing the typed codec so tests can produce schema-invalid input.
func writeRawDoc(t *testing.T, path string, doc any) {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)

	f, err := os.Create(path)
	require.NoError(t, err)
	zw, err := zstd.NewWriter(f)
	require.NoError(t, err)
	_, err = zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func TestCodec_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demo"+Extension)
	raw := makeRaw(3, "lamp", true)

	require.NoError(t, WriteFile(path, raw))

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

func TestReadFile_SchemaRejectsMissingField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad"+Extension)
	doc := map[string]any{
		"success":      true,
		"image_height": 4,
		"image_width":  5,
		"observations": []any{},
		"actions":      []any{},
		"rewards":      []any{},
		"skills":       []any{},
	}
	writeRawDoc(t, path, doc)

	_, err := ReadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema")
}

func TestReadFile_NotZstd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain"+Extension)
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	_, err := ReadFile(path)
	assert.Error(t, err)
}

func TestDecode_Shapes(t *testing.T) {
	const n = 6
	dec, err := Decode(makeRaw(n, "chair", false), "scripted/chair/demo.demo.zst", 0)
	require.NoError(t, err)

	assert.Equal(t, n, dec.Length)
	assert.Len(t, dec.RobotState, n*geometry.StateSixWidth)
	assert.Len(t, dec.ActionDelta, n*geometry.ActionSixWidth)
	assert.Len(t, dec.ActionPos, n*geometry.PoseWidth)
	assert.Len(t, dec.Image1, n*testImageHeight*testImageWidth*3)
	assert.Len(t, dec.Image2, n*testImageHeight*testImageWidth*3)
	assert.Len(t, dec.Reward, n)
	assert.Len(t, dec.Skill, n)

	assert.Equal(t, "chair", dec.Furniture)
	assert.False(t, dec.Success)
	assert.Equal(t, "scripted/chair/demo.demo.zst", dec.Source)
}

func TestDecode_TrimsFinalObservation(t *testing.T) {
	raw := makeRaw(2, "desk", true)
	dec, err := Decode(raw, "src", 0)
	require.NoError(t, err)

	// First image frame survives byte-for-byte.
	frame0, _ := base64.StdEncoding.DecodeString(raw.Observations[0].ColorImage1)
	assert.Equal(t, frame0, dec.Image1[:len(frame0)])

	// The final observation's frame is trimmed away.
	last, _ := base64.StdEncoding.DecodeString(raw.Observations[2].ColorImage1)
	assert.NotEqual(t, last, dec.Image1[len(dec.Image1)-len(last):])
}

func TestDecode_ActionPosIsPostActionState(t *testing.T) {
	raw := makeRaw(3, "desk", true)
	dec, err := Decode(raw, "src", 0)
	require.NoError(t, err)

	// actionPos[i] is the pose of expanded state i+1.
	expanded, err := geometry.ExpandState(raw.Observations[1].RobotState.Concat())
	require.NoError(t, err)
	pose, err := geometry.PoseFromState(expanded)
	require.NoError(t, err)

	assert.Equal(t, pose, dec.ActionPos[:geometry.PoseWidth])
}

func TestDecode_LengthMismatch(t *testing.T) {
	raw := makeRaw(3, "lamp", true)
	// One extra observation: state becomes one longer than actions.
	raw.Observations = append(raw.Observations, raw.Observations[0])

	_, err := Decode(raw, "teleop/lamp/0042.demo.zst", 0)
	var lenErr *LengthMismatchError
	require.ErrorAs(t, err, &lenErr)
	assert.Equal(t, "teleop/lamp/0042.demo.zst", lenErr.Source)
	assert.Equal(t, 1, lenErr.Delta)
	assert.Contains(t, err.Error(), "teleop/lamp/0042.demo.zst")
	assert.Contains(t, err.Error(), "+1")
}

func TestDecode_RewardLengthMismatch(t *testing.T) {
	raw := makeRaw(3, "lamp", true)
	raw.Rewards = raw.Rewards[:2]

	_, err := Decode(raw, "src", 0)
	var lenErr *LengthMismatchError
	require.ErrorAs(t, err, &lenErr)
	assert.Equal(t, "reward", lenErr.Channel)
	assert.Equal(t, -1, lenErr.Delta)
}

func TestDecode_BadActionWidth(t *testing.T) {
	raw := makeRaw(2, "lamp", true)
	raw.Actions[1] = raw.Actions[1][:7]

	_, err := Decode(raw, "src", 0)
	var shapeErr *geometry.ShapeMismatchError
	require.ErrorAs(t, err, &shapeErr)
}

func TestDecode_BadImageBase64(t *testing.T) {
	raw := makeRaw(2, "lamp", true)
	raw.Observations[0].ColorImage1 = "not-base64!!"

	_, err := Decode(raw, "src", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "color_image1")
}

func TestDecode_WrongFrameSize(t *testing.T) {
	raw := makeRaw(2, "lamp", true)
	raw.Observations[1].ColorImage2 = base64.StdEncoding.EncodeToString([]byte{1, 2, 3})

	_, err := Decode(raw, "src", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "color_image2")
}

func TestDecodeFile_MissingFile(t *testing.T) {
	_, err := DecodeFile(filepath.Join(t.TempDir(), "nope"+Extension), "nope", 0)
	assert.Error(t, err)
}

func TestDecodeFile_EndToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ep"+Extension)
	require.NoError(t, WriteFile(path, makeRaw(4, "shelf", true)))

	dec, err := DecodeFile(path, "scripted/shelf/ep.demo.zst", 0.5)
	require.NoError(t, err)
	assert.Equal(t, 4, dec.Length)
	assert.True(t, dec.Success)
}
