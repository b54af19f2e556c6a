package transform

// CameraPose is a camera's position in the rig: a rotation (axis-angle) and
// translation that take a point from world space into the camera's frame.
type CameraPose struct {
	Rotation    [3]float64
	Translation [3]float64
}

// ObjectPose is the pose of the calibration target for one observed frame:
// a rotation and translation that take a model point from the target's
// local frame into world space.
type ObjectPose struct {
	Rotation    [3]float64
	Translation [3]float64
}

// Intrinsics is a camera's focal length, principal point, and distortion
// model.
type Intrinsics struct {
	Focal     [2]float64
	Principal [2]float64
	Dist      *BrownConrady
}

// Project maps a 3D model point through an object pose, a camera pose, and
// a camera's intrinsics/distortion model into a predicted pixel coordinate.
// This is the same composition as
// ReprojectionErrorWithRadialFull::operator() (object rotate+translate,
// camera rotate+translate, perspective divide, distort, focal+principal).
func Project(modelPoint [3]float64, obj ObjectPose, cam CameraPose, intr Intrinsics) (float64, float64) {
	p := RotateAxisAngle(obj.Rotation, modelPoint)
	p[0] += obj.Translation[0]
	p[1] += obj.Translation[1]
	p[2] += obj.Translation[2]

	p = RotateAxisAngle(cam.Rotation, p)
	p[0] += cam.Translation[0]
	p[1] += cam.Translation[1]
	p[2] += cam.Translation[2]

	xp := p[0] / p[2]
	yp := p[1] / p[2]

	dx, dy := intr.Dist.Transform(xp, yp)

	predictedX := intr.Focal[0]*dx + intr.Principal[0]
	predictedY := intr.Focal[1]*dy + intr.Principal[1]

	return predictedX, predictedY
}
