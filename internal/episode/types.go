// Package episode reads raw robot demonstration files and decodes them into
// the fixed-width per-timestep channels the aggregation pipeline consumes.
//
// A demo file is a zstd-compressed JSON document holding N+1 observation
// records (two camera images plus a proprioceptive robot-state record),
// N delta actions, N rewards, N skills, a furniture id, and a success flag.
// Documents are validated against an embedded JSON Schema before any field
// is touched, so malformed input fails at the boundary rather than deep in
// the transform code.
package episode

import "fmt"

// Extension is the file suffix for raw demo documents.
const Extension = ".demo.zst"

// RobotState is the proprioceptive record captured at every timestep. Field
// order matches the 14-wide concatenated state vector.
type RobotState struct {
	EEPos        []float32 `json:"ee_pos"`
	EEQuat       []float32 `json:"ee_quat"`
	EEPosVel     []float32 `json:"ee_pos_vel"`
	EEOriVel     []float32 `json:"ee_ori_vel"`
	GripperWidth float32   `json:"gripper_width"`
}

// Concat flattens the record into the 14-wide state vector:
// position(3) + quaternion(4) + linear velocity(3) + angular velocity(3) +
// gripper width(1).
func (s RobotState) Concat() []float32 {
	out := make([]float32, 0, 14)
	out = append(out, s.EEPos...)
	out = append(out, s.EEQuat...)
	out = append(out, s.EEPosVel...)
	out = append(out, s.EEOriVel...)
	out = append(out, s.GripperWidth)
	return out
}

// Observation is one timestep's sensor snapshot. Images are base64-encoded
// H*W*3 RGB bytes.
type Observation struct {
	ColorImage1 string     `json:"color_image1"`
	ColorImage2 string     `json:"color_image2"`
	RobotState  RobotState `json:"robot_state"`
}

// Raw is a complete demo document as stored on disk. An episode of N action
// steps carries N+1 observations: the state reached after the last action is
// recorded but never acted from.
type Raw struct {
	Furniture    string        `json:"furniture"`
	Success      bool          `json:"success"`
	ImageHeight  int           `json:"image_height"`
	ImageWidth   int           `json:"image_width"`
	Observations []Observation `json:"observations"`
	Actions      [][]float32   `json:"actions"`
	Rewards      []float32     `json:"rewards"`
	Skills       []float32     `json:"skills"`
}

// Decoded is the output of decoding one episode: every per-timestep channel
// trimmed to the same length N, flat row-major, plus per-episode scalars.
type Decoded struct {
	RobotState  []float32 // [N,16]
	Image1      []byte    // [N,H,W,3]
	Image2      []byte    // [N,H,W,3]
	ImageHeight int
	ImageWidth  int
	ActionDelta []float32 // [N,10]
	ActionPos   []float32 // [N,9]
	Reward      []float32 // [N]
	Skill       []float32 // [N]

	Length    int
	Furniture string
	Success   bool
	// Source is the provenance-relative path of the demo file, recorded in
	// the output store for debugging and joins.
	Source string
}

// LengthMismatchError reports per-timestep channels within one episode that
// disagree on timestep count. It is fatal for the whole pipeline.
type LengthMismatchError struct {
	Source  string
	Channel string // empty for the primary state/action check
	Delta   int    // signed difference against the action count
}

func (e *LengthMismatchError) Error() string {
	if e.Channel != "" {
		return fmt.Sprintf("length mismatch in %s: %s differs from actions by %+d", e.Source, e.Channel, e.Delta)
	}
	return fmt.Sprintf("length mismatch in %s: state and action lengths differ by %+d", e.Source, e.Delta)
}
