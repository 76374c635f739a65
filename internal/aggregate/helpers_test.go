package aggregate

import (
	"encoding/base64"
	"os"

	"github.com/robopack/robopack/internal/episode"
)

// realRaw builds a well-formed demo document with n action steps for tests
// that exercise the real file codec.
func realRaw(n int, furniture string) *episode.Raw {
	const h, w = 3, 4
	frame := base64.StdEncoding.EncodeToString(make([]byte, h*w*3))

	raw := &episode.Raw{
		Furniture:   furniture,
		Success:     true,
		ImageHeight: h,
		ImageWidth:  w,
	}
	for i := 0; i <= n; i++ {
		raw.Observations = append(raw.Observations, episode.Observation{
			ColorImage1: frame,
			ColorImage2: frame,
			RobotState: episode.RobotState{
				EEPos:        []float32{0.5, 0, float32(i) * 0.01},
				EEQuat:       []float32{0, 0, 0, 1},
				EEPosVel:     []float32{0, 0, 0},
				EEOriVel:     []float32{0, 0, 0},
				GripperWidth: 0.04,
			},
		})
	}
	for i := 0; i < n; i++ {
		raw.Actions = append(raw.Actions, []float32{0, 0, 0.01, 0, 0, 0, 1, 1})
		raw.Rewards = append(raw.Rewards, 0)
		raw.Skills = append(raw.Skills, 0)
	}
	return raw
}

func writeGarbage(path string) error {
	return os.WriteFile(path, []byte("this is not a demo file"), 0o644)
}
