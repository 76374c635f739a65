// Package geometry converts orientation-bearing robot vectors between the
// 4-parameter quaternion representation and the 6-parameter continuous
// rotation representation used by the training stack.
//
// All functions are pure. Quaternions follow the (x, y, z, w) component order
// and are assumed to be unit length; no normalization is performed here, so a
// non-unit input produces numerically meaningless output without failing.
package geometry

import "fmt"

// Channel widths before and after 6D expansion.
const (
	QuatWidth = 4

	ActionWidth    = 8
	ActionSixWidth = 10

	StateWidth    = 14
	StateSixWidth = 16

	PoseWidth = 9
)

// ShapeMismatchError reports a vector of unexpected width passed to one of
// the transform functions.
type ShapeMismatchError struct {
	What string
	Want int
	Got  int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("%s must be %dD, got %dD", e.What, e.Want, e.Got)
}

// OrientationSixD maps a unit quaternion (x, y, z, w) to the 6D continuous
// rotation representation: the first two columns of the equivalent rotation
// matrix, flattened column-major.
func OrientationSixD(q []float32) ([]float32, error) {
	if len(q) != QuatWidth {
		return nil, &ShapeMismatchError{What: "quaternion", Want: QuatWidth, Got: len(q)}
	}

	x, y, z, w := float64(q[0]), float64(q[1]), float64(q[2]), float64(q[3])

	// First two columns of the rotation matrix for a unit quaternion.
	return []float32{
		float32(1 - 2*(y*y+z*z)),
		float32(2 * (x*y + z*w)),
		float32(2 * (x*z - y*w)),
		float32(2 * (x*y - z*w)),
		float32(1 - 2*(x*x+z*z)),
		float32(2 * (y*z + x*w)),
	}, nil
}

// ExpandAction converts an 8-wide delta action (position 3, quaternion 4,
// gripper 1) into its 10-wide 6D-rotation form. Position and gripper pass
// through untouched.
func ExpandAction(a []float32) ([]float32, error) {
	if len(a) != ActionWidth {
		return nil, &ShapeMismatchError{What: "action", Want: ActionWidth, Got: len(a)}
	}

	rot, err := OrientationSixD(a[3:7])
	if err != nil {
		return nil, err
	}

	out := make([]float32, 0, ActionSixWidth)
	out = append(out, a[:3]...)
	out = append(out, rot...)
	out = append(out, a[7])
	return out, nil
}

// ExpandState converts a 14-wide proprioceptive state (position 3,
// quaternion 4, linear velocity 3, angular velocity 3, gripper width 1) into
// its 16-wide 6D-rotation form.
func ExpandState(s []float32) ([]float32, error) {
	if len(s) != StateWidth {
		return nil, &ShapeMismatchError{What: "robot state", Want: StateWidth, Got: len(s)}
	}

	rot, err := OrientationSixD(s[3:7])
	if err != nil {
		return nil, err
	}

	out := make([]float32, 0, StateSixWidth)
	out = append(out, s[:3]...)
	out = append(out, rot...)
	out = append(out, s[7:]...)
	return out, nil
}

// PoseFromState slices the 9-wide end-effector pose (position 3, rotation
// 6D) out of a 16-wide expanded state.
func PoseFromState(s []float32) ([]float32, error) {
	if len(s) != StateSixWidth {
		return nil, &ShapeMismatchError{What: "expanded robot state", Want: StateSixWidth, Got: len(s)}
	}

	out := make([]float32, PoseWidth)
	copy(out, s[:PoseWidth])
	return out, nil
}

// ExpandActionBatch applies ExpandAction to every row and returns the result
// as one flat row-major slice of width ActionSixWidth. Rows are independent;
// the first invalid row aborts the batch.
func ExpandActionBatch(rows [][]float32) ([]float32, error) {
	out := make([]float32, 0, len(rows)*ActionSixWidth)
	for i, row := range rows {
		expanded, err := ExpandAction(row)
		if err != nil {
			return nil, fmt.Errorf("action row %d: %w", i, err)
		}
		out = append(out, expanded...)
	}
	return out, nil
}

// ExpandStateBatch applies ExpandState to every row and returns the result
// as one flat row-major slice of width StateSixWidth.
func ExpandStateBatch(rows [][]float32) ([]float32, error) {
	out := make([]float32, 0, len(rows)*StateSixWidth)
	for i, row := range rows {
		expanded, err := ExpandState(row)
		if err != nil {
			return nil, fmt.Errorf("state row %d: %w", i, err)
		}
		out = append(out, expanded...)
	}
	return out, nil
}

// PoseFromStateBatch applies PoseFromState to every 16-wide row of a flat
// row-major expanded-state slice.
func PoseFromStateBatch(flat []float32) ([]float32, error) {
	if len(flat)%StateSixWidth != 0 {
		return nil, &ShapeMismatchError{What: "expanded robot state", Want: StateSixWidth, Got: len(flat) % StateSixWidth}
	}

	n := len(flat) / StateSixWidth
	out := make([]float32, 0, n*PoseWidth)
	for i := 0; i < n; i++ {
		pose, err := PoseFromState(flat[i*StateSixWidth : (i+1)*StateSixWidth])
		if err != nil {
			return nil, fmt.Errorf("state row %d: %w", i, err)
		}
		out = append(out, pose...)
	}
	return out, nil
}
