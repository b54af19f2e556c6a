// Package bundle implements the reprojection residual variants, the
// problem builder that wires observations to parameter blocks, and the
// Levenberg-Marquardt solver with Schur-complement elimination of the
// per-frame object pose blocks.
package bundle

import (
	"github.com/freicalib/rigcal/transform"
	"github.com/pkg/errors"
)

// Variant selects which reprojection residual functor applies to an
// observation, mirroring the four cases BundleAdjuster::optimize
// dispatches on.
type Variant int

const (
	// VariantFull optimizes object pose, camera intrinsics, distortion and
	// camera extrinsics. Residual dimension 9 (2 reprojection + 5
	// distortion-shrinkage + 2 principal-point-centering).
	VariantFull Variant = iota
	// VariantIntrinsicExtrinsic optimizes object pose, camera intrinsics
	// (focal + principal) and camera extrinsics, holding distortion fixed.
	// Residual dimension 4 (2 reprojection + 2 principal-point-centering).
	VariantIntrinsicExtrinsic
	// VariantExtrinsicOnly optimizes object pose and camera extrinsics,
	// holding intrinsics and distortion fixed. Residual dimension 2.
	VariantExtrinsicOnly
	// VariantPoseOnly optimizes only object pose; camera intrinsics,
	// distortion and extrinsics are all held fixed. Residual dimension 2.
	VariantPoseOnly
)

// Dim returns the residual dimension for the variant.
func (v Variant) Dim() int {
	switch v {
	case VariantFull:
		return 9
	case VariantIntrinsicExtrinsic:
		return 4
	default:
		return 2
	}
}

// String names the variant for log banners, mirroring the original's
// per-mode printouts in BundleAdjuster::optimize.
func (v Variant) String() string {
	switch v {
	case VariantFull:
		return "Optimizing object pose, camera intrinsics, distortion and camera extrinsics."
	case VariantIntrinsicExtrinsic:
		return "Optimizing object pose, camera intrinsics and extrinsics."
	case VariantExtrinsicOnly:
		return "Optimizing object pose and camera extrinsics."
	case VariantPoseOnly:
		return "Optimizing only object pose."
	default:
		return "unknown variant"
	}
}

// ResolveVariant maps the three optimization flags to a Variant, matching
// BundleAdjuster::optimize's if/else-if chain exactly. The combination
// optimizeIntrinsic=true, optimizeExtrinsic=false (with any optimizeRadial)
// is not one of the four defined cases and is rejected.
func ResolveVariant(optimizeIntrinsic, optimizeRadial, optimizeExtrinsic bool) (Variant, error) {
	switch {
	case optimizeRadial && optimizeIntrinsic && optimizeExtrinsic:
		return VariantFull, nil
	case !optimizeRadial && optimizeIntrinsic && optimizeExtrinsic:
		return VariantIntrinsicExtrinsic, nil
	case !optimizeIntrinsic && optimizeExtrinsic:
		return VariantExtrinsicOnly, nil
	case !optimizeRadial && !optimizeIntrinsic && !optimizeExtrinsic:
		return VariantPoseOnly, nil
	default:
		return 0, errors.Errorf(
			"unsupported optimization mode: intrinsic=%v radial=%v extrinsic=%v",
			optimizeIntrinsic, optimizeRadial, optimizeExtrinsic)
	}
}

// Residual is one observation's reprojection cost functor. Every parameter
// slice is a live reference into the ParameterStore's arena. FrameRotation
// and FrameTranslation are solver parameters in every variant;
// CamRotation/CamTranslation/Focal/Principal/Dist are solver parameters
// only when the variant optimizes that block, and otherwise keep the
// values they had when the solve started.
type Residual struct {
	Variant Variant

	// FrameID, CameraID and IntrinsicOwner identify which Schur-complement
	// blocks this residual contributes to: the frame's object pose (always),
	// the camera's own extrinsic block, and the (possibly shared) camera
	// whose intrinsic/distortion block this observation was routed to.
	FrameID        int
	CameraID       int
	IntrinsicOwner int

	ModelPoint [3]float64
	ObservedU  float64
	ObservedV  float64
	Width      int
	Height     int

	FrameRotation    []float64
	FrameTranslation []float64

	CamRotation    []float64
	CamTranslation []float64
	Focal          []float64
	Principal      []float64
	Dist           []float64

	// ExtrinsicActive/IntrinsicActive/RadialActive report whether the
	// corresponding block above is a solver parameter (true) or held at its
	// current value (false), independent of Variant.Dim bookkeeping.
	ExtrinsicActive bool
	IntrinsicActive bool
	RadialActive    bool
}

// Evaluate computes the residual vector from the current parameter values
// (read directly from the store sub-slices this Residual holds).
func (r *Residual) Evaluate() []float64 {
	var objRot, objTrans, camRot, camTrans [3]float64
	copy(objRot[:], r.FrameRotation)
	copy(objTrans[:], r.FrameTranslation)
	copy(camRot[:], r.CamRotation)
	copy(camTrans[:], r.CamTranslation)

	dist, _ := transform.NewBrownConrady(r.Dist)
	intr := transform.Intrinsics{
		Focal:     [2]float64{r.Focal[0], r.Focal[1]},
		Principal: [2]float64{r.Principal[0], r.Principal[1]},
		Dist:      dist,
	}
	obj := transform.ObjectPose{Rotation: objRot, Translation: objTrans}
	cam := transform.CameraPose{Rotation: camRot, Translation: camTrans}

	px, py := transform.Project(r.ModelPoint, obj, cam, intr)

	res := make([]float64, r.Variant.Dim())
	res[0] = px - r.ObservedU
	res[1] = py - r.ObservedV

	switch r.Variant {
	case VariantFull:
		k1, k2, p1, p2, k3 := r.Dist[0], r.Dist[1], r.Dist[2], r.Dist[3], r.Dist[4]
		res[2] = 0.1 * k1
		res[3] = 0.5 * k2
		res[4] = 0.1 * p1
		res[5] = 0.1 * p2
		res[6] = 1.0 * k3
		res[7] = 0.001 * (float64(r.Width)/2.0 - r.Principal[0])
		res[8] = 0.001 * (float64(r.Height)/2.0 - r.Principal[1])
	case VariantIntrinsicExtrinsic:
		res[2] = 0.001 * (float64(r.Width)/2.0 - r.Principal[0])
		res[3] = 0.001 * (float64(r.Height)/2.0 - r.Principal[1])
	}

	return res
}

// paramBlocks returns, in a fixed order, the live (solver-visible)
// parameter slices this residual depends on: object pose always, then
// camera extrinsic/intrinsic/radial blocks only if active. This ordering
// is shared by the problem builder's Jacobian placement and the solver's
// finite-difference evaluation.
func (r *Residual) paramBlocks() [][]float64 {
	blocks := [][]float64{r.FrameTranslation, r.FrameRotation}
	if r.ExtrinsicActive {
		blocks = append(blocks, r.CamTranslation, r.CamRotation)
	}
	if r.IntrinsicActive {
		blocks = append(blocks, r.Focal, r.Principal)
	}
	if r.RadialActive {
		blocks = append(blocks, r.Dist)
	}
	return blocks
}

