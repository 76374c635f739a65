package episode

import (
	"encoding/base64"
	"fmt"

	"github.com/robopack/robopack/internal/geometry"
)

// DecodeFile reads and decodes one demo file. source is the
// provenance-relative path recorded in the output store. noopThreshold is
// accepted for forward compatibility with no-op action filtering; it is
// recorded in the store attrs but currently excludes nothing.
func DecodeFile(path, source string, noopThreshold float64) (*Decoded, error) {
	raw, err := ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", source, err)
	}
	return Decode(raw, source, noopThreshold)
}

// Decode turns one raw episode into its fixed-width channels.
//
// An episode of N action steps carries N+1 observations. The state channel
// drops the final observation (no action is taken from it); the
// position-action channel is the pose of the state reached after each
// action, so it drops the first observation instead. Both end up length N,
// as do the image, reward, and skill channels.
func Decode(raw *Raw, source string, _ float64) (*Decoded, error) {
	stateRows := make([][]float32, len(raw.Observations))
	for i, obs := range raw.Observations {
		stateRows[i] = obs.RobotState.Concat()
	}

	allState, err := geometry.ExpandStateBatch(stateRows)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", source, err)
	}

	actionDelta, err := geometry.ExpandActionBatch(raw.Actions)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", source, err)
	}

	n := len(raw.Observations) - 1
	if n != len(raw.Actions) {
		return nil, &LengthMismatchError{Source: source, Delta: n - len(raw.Actions)}
	}
	if len(raw.Rewards) != n {
		return nil, &LengthMismatchError{Source: source, Channel: "reward", Delta: len(raw.Rewards) - n}
	}
	if len(raw.Skills) != n {
		return nil, &LengthMismatchError{Source: source, Channel: "skill", Delta: len(raw.Skills) - n}
	}

	actionPos, err := geometry.PoseFromStateBatch(allState[geometry.StateSixWidth:])
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", source, err)
	}

	frameSize := raw.ImageHeight * raw.ImageWidth * 3
	image1, err := decodeImages(raw.Observations, n, frameSize, func(o Observation) string { return o.ColorImage1 })
	if err != nil {
		return nil, fmt.Errorf("decoding %s: color_image1: %w", source, err)
	}
	image2, err := decodeImages(raw.Observations, n, frameSize, func(o Observation) string { return o.ColorImage2 })
	if err != nil {
		return nil, fmt.Errorf("decoding %s: color_image2: %w", source, err)
	}

	reward := make([]float32, n)
	copy(reward, raw.Rewards)
	skill := make([]float32, n)
	copy(skill, raw.Skills)

	return &Decoded{
		RobotState:  allState[:n*geometry.StateSixWidth],
		Image1:      image1,
		Image2:      image2,
		ImageHeight: raw.ImageHeight,
		ImageWidth:  raw.ImageWidth,
		ActionDelta: actionDelta,
		ActionPos:   actionPos,
		Reward:      reward,
		Skill:       skill,
		Length:      n,
		Furniture:   raw.Furniture,
		Success:     raw.Success,
		Source:      source,
	}, nil
}

// decodeImages concatenates the first n observation frames into one flat
// byte slice, copied byte-for-byte without transform.
func decodeImages(obs []Observation, n, frameSize int, field func(Observation) string) ([]byte, error) {
	out := make([]byte, 0, n*frameSize)
	for i := 0; i < n; i++ {
		frame, err := base64.StdEncoding.DecodeString(field(obs[i]))
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		if len(frame) != frameSize {
			return nil, fmt.Errorf("frame %d: got %d bytes, want %d", i, len(frame), frameSize)
		}
		out = append(out, frame...)
	}
	return out, nil
}
