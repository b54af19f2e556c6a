package calibration

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// Observation is one 2D point observed in one frame by one camera.
type Observation struct {
	CameraID int
	PointID  int
	FrameID  int
	U        float64
	V        float64
}

// InputDocument is the parsed contents of an input calibration document:
// cameras, model points, per-frame object poses, and observations.
type InputDocument struct {
	Cameras      [][]float64
	ModelPoints  [][3]float64
	ObjectPoses  [][]float64
	Observations []Observation
}

type observedPointsWire struct {
	Coords [][]float64 `json:"coords"`
	PID    []int       `json:"pid"`
	CID    []int       `json:"cid"`
	FID    []int       `json:"fid"`
}

type inputDocumentWire struct {
	Camera         [][]float64        `json:"Camera"`
	ModelPoints    [][]float64        `json:"ModelPoints"`
	ObjectPoses    [][]float64        `json:"ObjectPoses"`
	ObservedPoints observedPointsWire `json:"ObservedPoints"`
}

// ParseDocument reads and validates an input document at path, enforcing
// the exact per-section cardinality the document schema requires (17
// scalars per camera, 3 per model point, 6 per object pose, 2 per observed
// coordinate) and that every cid/pid/fid indexes a defined entry.
func ParseDocument(path string) (*InputDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading input document %q", path)
	}

	var wire inputDocumentWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, errors.Wrapf(err, "parsing input document %q", path)
	}

	for i, row := range wire.Camera {
		if len(row) != 17 {
			return nil, errors.Errorf("camera %d: expected 17 scalars, got %d", i, len(row))
		}
	}

	modelPoints := make([][3]float64, len(wire.ModelPoints))
	for i, row := range wire.ModelPoints {
		if len(row) != 3 {
			return nil, errors.Errorf("model point %d: expected 3 scalars, got %d", i, len(row))
		}
		modelPoints[i] = [3]float64{row[0], row[1], row[2]}
	}

	for i, row := range wire.ObjectPoses {
		if len(row) != 6 {
			return nil, errors.Errorf("object pose %d: expected 6 scalars, got %d", i, len(row))
		}
	}

	op := wire.ObservedPoints
	n := len(op.Coords)
	if len(op.PID) != n || len(op.CID) != n || len(op.FID) != n {
		return nil, errors.Errorf(
			"ObservedPoints: coords/pid/cid/fid must have equal length, got %d/%d/%d/%d",
			n, len(op.PID), len(op.CID), len(op.FID))
	}

	observations := make([]Observation, n)
	for i := 0; i < n; i++ {
		if len(op.Coords[i]) != 2 {
			return nil, errors.Errorf("observed point %d: expected 2 scalars, got %d", i, len(op.Coords[i]))
		}
		cid, pid, fid := op.CID[i], op.PID[i], op.FID[i]
		if cid < 0 || cid >= len(wire.Camera) {
			return nil, errors.Errorf("observed point %d: cid %d out of range [0, %d)", i, cid, len(wire.Camera))
		}
		if pid < 0 || pid >= len(modelPoints) {
			return nil, errors.Errorf("observed point %d: pid %d out of range [0, %d)", i, pid, len(modelPoints))
		}
		if fid < 0 || fid >= len(wire.ObjectPoses) {
			return nil, errors.Errorf("observed point %d: fid %d out of range [0, %d)", i, fid, len(wire.ObjectPoses))
		}
		observations[i] = Observation{
			CameraID: cid,
			PointID:  pid,
			FrameID:  fid,
			U:        op.Coords[i][0],
			V:        op.Coords[i][1],
		}
	}

	return &InputDocument{
		Cameras:      wire.Camera,
		ModelPoints:  modelPoints,
		ObjectPoses:  wire.ObjectPoses,
		Observations: observations,
	}, nil
}

// SolverStatus is the additive, informational section of the output
// document describing how the solve went.
type SolverStatus struct {
	Converged   bool    `json:"Converged"`
	Iterations  int     `json:"Iterations"`
	InitialCost float64 `json:"InitialCost"`
	FinalCost   float64 `json:"FinalCost"`
}

type outputDocumentWire struct {
	Camera       [][]float64  `json:"Camera"`
	ObjectPoses  [][]float64  `json:"ObjectPoses"`
	SolverStatus SolverStatus `json:"SolverStatus"`
}

// WriteDocument writes the solved cameras and object poses (plus the
// additive SolverStatus) to path as indented JSON.
func WriteDocument(path string, cameras [][]float64, poses [][]float64, status SolverStatus) error {
	wire := outputDocumentWire{Camera: cameras, ObjectPoses: poses, SolverStatus: status}
	data, err := json.MarshalIndent(wire, "", "    ")
	if err != nil {
		return errors.Wrap(err, "marshaling output document")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "writing output document %q", path)
	}
	return nil
}
