// Package calibration holds the solver's parameter storage and the JSON
// document schema used to read rig-calibration inputs and write results.
package calibration

import "github.com/pkg/errors"

// Per-camera parameter block layout within the arena: 15 scalars.
const (
	offFocal       = 0
	offPrincipal   = 2
	offDist        = 4
	offCamRotation = 9
	offCamTrans    = 12
	cameraBlockLen = 15
)

// Per-frame object pose block layout: 6 scalars (rotation, translation).
const (
	offPoseRotation = 0
	offPoseTrans    = 3
	poseBlockLen    = 6
)

// CameraDims holds a camera's immutable image dimensions. These are not
// solver parameters; they never move once read from the input document.
type CameraDims struct {
	Width  int
	Height int
}

// ParameterStore owns every parameter block the solver reads and writes:
// per-camera intrinsic/extrinsic blocks and per-frame object pose blocks,
// each backed by a pre-sized arena that is never reallocated. Accessors
// return sub-slices of that arena, so the addresses handed to the solver
// stay stable for the life of the store.
type ParameterStore struct {
	cameraArena []float64 // len = numCameras * cameraBlockLen
	cameraDims  []CameraDims
	poseArena   []float64 // len = numFrames * poseBlockLen
	modelPoints [][3]float64
}

// NewParameterStore builds a ParameterStore from parsed camera rows (17
// scalars each: focal, principal, dist, camRotation, camTranslation,
// imgSize), object pose rows (6 scalars each), and model points (3 scalars
// each). It copies every input value into its own arena.
func NewParameterStore(cameraRows [][]float64, poseRows [][]float64, modelPoints [][3]float64) (*ParameterStore, error) {
	ps := &ParameterStore{
		cameraArena: make([]float64, len(cameraRows)*cameraBlockLen),
		cameraDims:  make([]CameraDims, len(cameraRows)),
		poseArena:   make([]float64, len(poseRows)*poseBlockLen),
		modelPoints: append([][3]float64(nil), modelPoints...),
	}

	for i, row := range cameraRows {
		if len(row) != 17 {
			return nil, errors.Errorf("camera %d: expected 17 scalars, got %d", i, len(row))
		}
		copy(ps.cameraArena[i*cameraBlockLen:(i+1)*cameraBlockLen], row[:15])
		ps.cameraDims[i] = CameraDims{Width: int(row[15]), Height: int(row[16])}
	}

	for i, row := range poseRows {
		if len(row) != 6 {
			return nil, errors.Errorf("object pose %d: expected 6 scalars, got %d", i, len(row))
		}
		copy(ps.poseArena[i*poseBlockLen:(i+1)*poseBlockLen], row)
	}

	return ps, nil
}

// NumCameras returns the number of camera blocks held by the store.
func (ps *ParameterStore) NumCameras() int { return len(ps.cameraDims) }

// NumFrames returns the number of object pose blocks held by the store.
func (ps *ParameterStore) NumFrames() int { return len(ps.poseArena) / poseBlockLen }

// NumModelPoints returns the number of 3D model points held by the store.
func (ps *ParameterStore) NumModelPoints() int { return len(ps.modelPoints) }

// ModelPoint returns the pid'th model point.
func (ps *ParameterStore) ModelPoint(pid int) [3]float64 { return ps.modelPoints[pid] }

// CameraDims returns the immutable image dimensions of camera cid.
func (ps *ParameterStore) CameraDims(cid int) CameraDims { return ps.cameraDims[cid] }

func (ps *ParameterStore) cameraBlock(cid int) []float64 {
	return ps.cameraArena[cid*cameraBlockLen : (cid+1)*cameraBlockLen]
}

// CameraFocal returns a stable 2-element sub-slice (fx, fy) for camera cid.
func (ps *ParameterStore) CameraFocal(cid int) []float64 {
	b := ps.cameraBlock(cid)
	return b[offFocal : offFocal+2]
}

// CameraPrincipal returns a stable 2-element sub-slice (cx, cy).
func (ps *ParameterStore) CameraPrincipal(cid int) []float64 {
	b := ps.cameraBlock(cid)
	return b[offPrincipal : offPrincipal+2]
}

// CameraDist returns a stable 5-element sub-slice (k1, k2, p1, p2, k3).
func (ps *ParameterStore) CameraDist(cid int) []float64 {
	b := ps.cameraBlock(cid)
	return b[offDist : offDist+5]
}

// CameraRotation returns a stable 3-element axis-angle sub-slice.
func (ps *ParameterStore) CameraRotation(cid int) []float64 {
	b := ps.cameraBlock(cid)
	return b[offCamRotation : offCamRotation+3]
}

// CameraTranslation returns a stable 3-element sub-slice.
func (ps *ParameterStore) CameraTranslation(cid int) []float64 {
	b := ps.cameraBlock(cid)
	return b[offCamTrans : offCamTrans+3]
}

func (ps *ParameterStore) poseBlock(fid int) []float64 {
	return ps.poseArena[fid*poseBlockLen : (fid+1)*poseBlockLen]
}

// FrameRotation returns a stable 3-element axis-angle sub-slice for the
// object pose of frame fid.
func (ps *ParameterStore) FrameRotation(fid int) []float64 {
	b := ps.poseBlock(fid)
	return b[offPoseRotation : offPoseRotation+3]
}

// FrameTranslation returns a stable 3-element sub-slice for the object
// pose of frame fid.
func (ps *ParameterStore) FrameTranslation(fid int) []float64 {
	b := ps.poseBlock(fid)
	return b[offPoseTrans : offPoseTrans+3]
}

// CameraRow returns the 15 solver-relevant scalars for camera cid in the
// document's output order (focal, principal, dist, camRotation,
// camTranslation) — used when writing the output document.
func (ps *ParameterStore) CameraRow(cid int) []float64 {
	b := ps.cameraBlock(cid)
	row := make([]float64, cameraBlockLen)
	copy(row, b)
	return row
}

// PoseRow returns the 6 scalars of frame fid's object pose (rotation,
// translation).
func (ps *ParameterStore) PoseRow(fid int) []float64 {
	b := ps.poseBlock(fid)
	row := make([]float64, poseBlockLen)
	copy(row, b)
	return row
}

// Snapshot copies the current camera and pose arenas, for the solver to
// restore from if a trial step increases cost.
func (ps *ParameterStore) Snapshot() (camera, pose []float64) {
	camera = append([]float64(nil), ps.cameraArena...)
	pose = append([]float64(nil), ps.poseArena...)
	return camera, pose
}

// Restore overwrites the camera and pose arenas in place from a prior
// Snapshot, preserving every previously handed-out sub-slice's address.
func (ps *ParameterStore) Restore(camera, pose []float64) {
	copy(ps.cameraArena, camera)
	copy(ps.poseArena, pose)
}
