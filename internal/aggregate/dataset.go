package aggregate

import "github.com/robopack/robopack/internal/store"

// Dataset is the concatenation of every decoded episode: the sole input to
// the store writer. Per-timestep channels share one leading length
// (Timesteps); per-episode channels share another (Episodes); episode_ends
// maps between the two.
type Dataset struct {
	Episodes  int
	Timesteps int

	RobotState  *store.Float32Column // [T,16]
	ColorImage1 *store.Uint8Column   // [T,H,W,3]
	ColorImage2 *store.Uint8Column   // [T,H,W,3]
	ActionDelta *store.Float32Column // [T,10]
	ActionPos   *store.Float32Column // [T,9]
	Reward      *store.Float32Column // [T]
	Skill       *store.Float32Column // [T]

	EpisodeEnds *store.Uint32Column // [E], strictly increasing
	Furniture   *store.StringColumn // [E]
	Success     *store.Uint8Column  // [E]
	SourceFiles *store.StringColumn // [E]
}

// Channels lists every channel under its persisted name. The pickle_file
// key is kept verbatim for downstream dataset readers.
func (d *Dataset) Channels() []store.Channel {
	return []store.Channel{
		{Name: "robot_state", Column: d.RobotState},
		{Name: "color_image1", Column: d.ColorImage1},
		{Name: "color_image2", Column: d.ColorImage2},
		{Name: "action/delta", Column: d.ActionDelta},
		{Name: "action/pos", Column: d.ActionPos},
		{Name: "reward", Column: d.Reward},
		{Name: "skill", Column: d.Skill},
		{Name: "episode_ends", Column: d.EpisodeEnds},
		{Name: "furniture", Column: d.Furniture},
		{Name: "success", Column: d.Success},
		{Name: "pickle_file", Column: d.SourceFiles},
	}
}
