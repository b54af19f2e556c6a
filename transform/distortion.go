// Package transform implements the pinhole camera model used throughout
// the rig calibration tool: the five-coefficient Brown-Conrady distortion,
// axis-angle (Rodrigues) rotation, and the projection kernel that composes
// them into a full object-to-pixel mapping.
package transform

import "github.com/pkg/errors"

// BrownConrady is the standard five-coefficient distortion model: three
// radial terms and two tangential terms, applied to normalized image
// coordinates before the focal/principal-point scaling.
type BrownConrady struct {
	RadialK1     float64
	RadialK2     float64
	RadialK3     float64
	TangentialP1 float64
	TangentialP2 float64
}

// NewBrownConrady builds a BrownConrady from a parameter slice ordered
// (k1, k2, p1, p2, k3), matching the camera document's distortion field
// order. A short slice fills the trailing coefficients with zero; more than
// five is an error.
func NewBrownConrady(params []float64) (*BrownConrady, error) {
	if len(params) > 5 {
		return nil, errors.New("BrownConrady: too long, expected at most 5 distortion parameters")
	}
	var p [5]float64
	copy(p[:], params)
	return &BrownConrady{
		RadialK1:     p[0],
		RadialK2:     p[1],
		TangentialP1: p[2],
		TangentialP2: p[3],
		RadialK3:     p[4],
	}, nil
}

// CheckValid reports whether the distortion model is usable. A nil
// receiver (distortion parameters never provided) is invalid.
func (bc *BrownConrady) CheckValid() error {
	if bc == nil {
		return errors.New("BrownConrady shaped distortion_parameters not provided: invalid distortion_parameters")
	}
	return nil
}

// Parameters returns the coefficients in (k1, k2, p1, p2, k3) order.
func (bc *BrownConrady) Parameters() []float64 {
	if bc == nil {
		return []float64{0, 0, 0, 0, 0}
	}
	return []float64{bc.RadialK1, bc.RadialK2, bc.TangentialP1, bc.TangentialP2, bc.RadialK3}
}

// Transform applies the distortion to a normalized (undistorted) image
// coordinate (x, y), returning the distorted coordinate.
func (bc *BrownConrady) Transform(x, y float64) (float64, float64) {
	if bc == nil {
		return x, y
	}
	r2 := x*x + y*y
	radial := 1 + r2*(bc.RadialK1+r2*(bc.RadialK2+r2*bc.RadialK3))
	dx := 2*bc.TangentialP1*x*y + bc.TangentialP2*(r2+2*x*x)
	dy := 2*bc.TangentialP2*x*y + bc.TangentialP1*(r2+2*y*y)
	return x*radial + dx, y*radial + dy
}
