package bundle

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/freicalib/rigcal/calibration"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

// Solver runs Levenberg-Marquardt with a dense Schur-complement
// elimination of the per-frame object pose blocks against the retained
// camera parameter blocks, matching the original's
// ceres::Solver::Options{linear_solver_type: DENSE_SCHUR,
// max_num_iterations: 50, function_tolerance: 1e-4}.
type Solver struct {
	MaxIterations     int
	FunctionTolerance float64
	Logger            golog.Logger
}

// NewSolver builds a Solver with the original's default configuration.
func NewSolver(logger golog.Logger) *Solver {
	return &Solver{MaxIterations: 50, FunctionTolerance: 1e-4, Logger: logger}
}

// Result reports how the solve went.
type Result struct {
	Converged   bool
	Iterations  int
	InitialCost float64
	FinalCost   float64
}

// cameraOwner records where, in the global retained parameter vector C,
// one camera's active sub-blocks live. An offset of -1 means that sub-block
// is not a solver parameter for this problem.
type cameraOwner struct {
	extrinsicOff int
	intrinsicOff int
	radialOff    int
}

func ownerCameras(numCameras int, shared bool) []int {
	if shared {
		return []int{0}
	}
	out := make([]int, numCameras)
	for i := range out {
		out[i] = i
	}
	return out
}

func buildRetainedLayout(numCameras int, mode Mode) ([]cameraOwner, int) {
	owners := make([]cameraOwner, numCameras)
	for i := range owners {
		owners[i] = cameraOwner{-1, -1, -1}
	}

	offset := 0
	if mode.OptimizeExtrinsic {
		for c := 0; c < numCameras; c++ {
			owners[c].extrinsicOff = offset
			offset += 6
		}
	}
	if mode.OptimizeIntrinsic {
		for _, c := range ownerCameras(numCameras, mode.ShareCameraModel) {
			owners[c].intrinsicOff = offset
			offset += 4
		}
	}
	if mode.OptimizeRadial {
		for _, c := range ownerCameras(numCameras, mode.ShareCameraModel) {
			owners[c].radialOff = offset
			offset += 5
		}
	}
	return owners, offset
}

// jacobian returns the residual's Jacobian w.r.t. its own live parameter
// vector (frame pose, then whichever camera blocks are active, in the
// order paramBlocks() returns them) via central-difference numerical
// differentiation, then restores the store to its pre-call values.
func (r *Residual) jacobian() *mat.Dense {
	blocks := r.paramBlocks()
	var x0 []float64
	for _, b := range blocks {
		x0 = append(x0, b...)
	}

	m := r.Variant.Dim()
	jac := mat.NewDense(m, len(x0), nil)
	fd.Jacobian(jac, func(dst, x []float64) {
		off := 0
		for _, b := range blocks {
			copy(b, x[off:off+len(b)])
			off += len(b)
		}
		copy(dst, r.Evaluate())
	}, x0, &fd.JacobianSettings{Formula: fd.Central})

	off := 0
	for _, b := range blocks {
		copy(b, x0[off:off+len(b)])
		off += len(b)
	}
	return jac
}

func cost(residuals []*Residual) float64 {
	total := 0.0
	for _, r := range residuals {
		for _, v := range r.Evaluate() {
			total += 0.5 * v * v
		}
	}
	return total
}

// Run solves the problem in place: ParameterStore's camera and pose
// arenas are updated to the converged (or last accepted) values.
func (s *Solver) Run(p *Problem) Result {
	s.Logger.Info(p.Banner())

	owners, retainedWidth := buildRetainedLayout(p.Store.NumCameras(), p.Mode)
	numFrames := p.Store.NumFrames()

	initialCost := cost(p.Residuals)
	prevCost := initialCost
	lambda := 1e-3

	result := Result{InitialCost: initialCost, FinalCost: initialCost}

	for iter := 0; iter < s.MaxIterations; iter++ {
		costBefore := prevCost
		uf := make([]*mat.Dense, numFrames)
		gf := make([]*mat.VecDense, numFrames)
		wf := make([]*mat.Dense, numFrames)
		for f := 0; f < numFrames; f++ {
			uf[f] = mat.NewDense(6, 6, nil)
			gf[f] = mat.NewVecDense(6, nil)
			if retainedWidth > 0 {
				wf[f] = mat.NewDense(6, retainedWidth, nil)
			}
		}
		var v *mat.Dense
		var gc *mat.VecDense
		if retainedWidth > 0 {
			v = mat.NewDense(retainedWidth, retainedWidth, nil)
			gc = mat.NewVecDense(retainedWidth, nil)
		}

		for _, r := range p.Residuals {
			res := r.Evaluate()
			jac := r.jacobian()
			m, _ := jac.Dims()

			weight := 1.0
			if p.Mode.RobustLossDelta > 0 {
				rnorm := 0.0
				for _, rv := range res {
					rnorm += rv * rv
				}
				rnorm = math.Sqrt(rnorm)
				if rnorm > p.Mode.RobustLossDelta {
					weight = math.Sqrt(p.Mode.RobustLossDelta / rnorm)
				}
			}

			jf := mat.NewDense(m, 6, nil)
			jf.Copy(jac.Slice(0, m, 0, 6))
			col := 6

			var jc *mat.Dense
			if retainedWidth > 0 {
				jc = mat.NewDense(m, retainedWidth, nil)
			}
			if r.ExtrinsicActive {
				off := owners[r.CameraID].extrinsicOff
				placeColumns(jc, jac, col, 6, off)
				col += 6
			}
			if r.IntrinsicActive {
				off := owners[r.IntrinsicOwner].intrinsicOff
				placeColumns(jc, jac, col, 4, off)
				col += 4
			}
			if r.RadialActive {
				off := owners[r.IntrinsicOwner].radialOff
				placeColumns(jc, jac, col, 5, off)
				col += 5
			}

			resVec := mat.NewVecDense(m, res)
			if weight != 1.0 {
				jf.Scale(weight, jf)
				if jc != nil {
					jc.Scale(weight, jc)
				}
				resVec.ScaleVec(weight, resVec)
			}

			var jftJf mat.Dense
			jftJf.Mul(jf.T(), jf)
			uf[r.FrameID].Add(uf[r.FrameID], &jftJf)

			var jftR mat.VecDense
			jftR.MulVec(jf.T(), resVec)
			gf[r.FrameID].AddVec(gf[r.FrameID], &jftR)

			if retainedWidth > 0 {
				var jctJc mat.Dense
				jctJc.Mul(jc.T(), jc)
				v.Add(v, &jctJc)

				var jctR mat.VecDense
				jctR.MulVec(jc.T(), resVec)
				gc.AddVec(gc, &jctR)

				var jftJc mat.Dense
				jftJc.Mul(jf.T(), jc)
				wf[r.FrameID].Add(wf[r.FrameID], &jftJc)
			}
		}

		camSnap, poseSnap := p.Store.Snapshot()

		accepted := false
		for attempt := 0; attempt < 10 && !accepted; attempt++ {
			deltaF, deltaC, ok := solveSchur(uf, gf, wf, v, gc, numFrames, retainedWidth, lambda)
			if !ok {
				lambda *= 10
				continue
			}

			applyFrameDeltas(p.Store, numFrames, deltaF)
			applyRetainedDeltas(p.Store, owners, deltaC)

			newCost := cost(p.Residuals)
			if newCost < prevCost {
				prevCost = newCost
				lambda = math.Max(lambda/10, 1e-12)
				accepted = true
			} else {
				p.Store.Restore(camSnap, poseSnap)
				lambda *= 10
			}
		}

		result.Iterations = iter + 1
		result.FinalCost = prevCost
		s.Logger.Infof("iteration %d: cost=%v lambda=%v", iter, prevCost, lambda)

		if !accepted {
			break
		}
		if costBefore > 0 && (costBefore-prevCost)/costBefore <= s.FunctionTolerance {
			break
		}
	}

	result.Converged = relativeCostChangeBelowTolerance(initialCost, result.FinalCost, s.FunctionTolerance, result.Iterations, s.MaxIterations)
	return result
}

// relativeCostChangeBelowTolerance reports whether the solve converged: it
// is considered converged if it stopped before exhausting
// max_num_iterations, which Run does once an iteration's relative cost
// change is at most the function tolerance or no step reduces the cost. A
// run that used every iteration counts as converged only if the total
// relative change from the initial cost is below tol.
func relativeCostChangeBelowTolerance(initial, final float64, tol float64, iterations, maxIterations int) bool {
	if iterations < maxIterations {
		return true
	}
	if initial <= 0 {
		return true
	}
	return math.Abs(initial-final)/initial < tol
}

func placeColumns(dst, src *mat.Dense, srcCol, width, dstOff int) {
	if dstOff < 0 {
		return
	}
	rows, _ := src.Dims()
	for row := 0; row < rows; row++ {
		for c := 0; c < width; c++ {
			dst.Set(row, dstOff+c, src.At(row, srcCol+c))
		}
	}
}

func solveSchur(uf []*mat.Dense, gf []*mat.VecDense, wf []*mat.Dense, v *mat.Dense, gc *mat.VecDense, numFrames, retainedWidth int, lambda float64) ([]*mat.VecDense, *mat.VecDense, bool) {
	ufInv := make([]*mat.Dense, numFrames)
	for f := 0; f < numFrames; f++ {
		damped := mat.NewDense(6, 6, nil)
		damped.Copy(uf[f])
		for i := 0; i < 6; i++ {
			damped.Set(i, i, damped.At(i, i)+lambda*uf[f].At(i, i))
		}
		var inv mat.Dense
		if err := inv.Inverse(damped); err != nil {
			return nil, nil, false
		}
		ufInv[f] = &inv
	}

	var deltaC *mat.VecDense
	if retainedWidth > 0 {
		s := mat.NewDense(retainedWidth, retainedWidth, nil)
		s.Copy(v)
		for i := 0; i < retainedWidth; i++ {
			s.Set(i, i, s.At(i, i)+lambda*v.At(i, i))
		}

		rhsC := mat.NewVecDense(retainedWidth, nil)
		rhsC.ScaleVec(-1, gc)

		for f := 0; f < numFrames; f++ {
			var wtUinv mat.Dense
			wtUinv.Mul(wf[f].T(), ufInv[f])

			var correction mat.Dense
			correction.Mul(&wtUinv, wf[f])
			s.Sub(s, &correction)

			var gCorrection mat.VecDense
			gCorrection.MulVec(&wtUinv, gf[f])
			rhsC.AddVec(rhsC, &gCorrection)
		}

		deltaC = mat.NewVecDense(retainedWidth, nil)
		if err := deltaC.SolveVec(s, rhsC); err != nil {
			return nil, nil, false
		}
	}

	deltaF := make([]*mat.VecDense, numFrames)
	for f := 0; f < numFrames; f++ {
		var wDeltaC mat.VecDense
		if retainedWidth > 0 {
			wDeltaC.MulVec(wf[f], deltaC)
		} else {
			wDeltaC = *mat.NewVecDense(6, nil)
		}

		rhsF := mat.NewVecDense(6, nil)
		rhsF.ScaleVec(-1, gf[f])
		rhsF.SubVec(rhsF, &wDeltaC)

		var df mat.VecDense
		df.MulVec(ufInv[f], rhsF)
		deltaF[f] = &df
	}

	return deltaF, deltaC, true
}

func applyFrameDeltas(store *calibration.ParameterStore, numFrames int, deltaF []*mat.VecDense) {
	for f := 0; f < numFrames; f++ {
		trans := store.FrameTranslation(f)
		rot := store.FrameRotation(f)
		d := deltaF[f]
		for i := 0; i < 3; i++ {
			trans[i] += d.AtVec(i)
		}
		for i := 0; i < 3; i++ {
			rot[i] += d.AtVec(3 + i)
		}
	}
}

func applyRetainedDeltas(store *calibration.ParameterStore, owners []cameraOwner, deltaC *mat.VecDense) {
	for cid, o := range owners {
		if o.extrinsicOff >= 0 {
			trans := store.CameraTranslation(cid)
			rot := store.CameraRotation(cid)
			for i := 0; i < 3; i++ {
				trans[i] += deltaC.AtVec(o.extrinsicOff + i)
			}
			for i := 0; i < 3; i++ {
				rot[i] += deltaC.AtVec(o.extrinsicOff + 3 + i)
			}
		}
		if o.intrinsicOff >= 0 {
			focal := store.CameraFocal(cid)
			principal := store.CameraPrincipal(cid)
			for i := 0; i < 2; i++ {
				focal[i] += deltaC.AtVec(o.intrinsicOff + i)
			}
			for i := 0; i < 2; i++ {
				principal[i] += deltaC.AtVec(o.intrinsicOff + 2 + i)
			}
		}
		if o.radialOff >= 0 {
			dist := store.CameraDist(cid)
			for i := 0; i < 5; i++ {
				dist[i] += deltaC.AtVec(o.radialOff + i)
			}
		}
	}
}
