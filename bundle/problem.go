package bundle

import (
	"github.com/edaniels/golog"
	"github.com/freicalib/rigcal/calibration"
	"github.com/pkg/errors"
)

// Mode selects which parameter groups the solver optimizes and whether
// intrinsics are shared across all cameras, mirroring the four
// constructor booleans BundleAdjuster takes.
type Mode struct {
	OptimizeIntrinsic bool
	OptimizeRadial    bool
	OptimizeExtrinsic bool
	ShareCameraModel  bool

	// RobustLossDelta is the Huber loss transition point. Zero disables
	// robust weighting (plain least squares), matching the original's
	// default of leaving ceres::HuberLoss unused (see BundleAdjuster::
	// optimize, where the loss_function variable is built but passed as
	// NULL to AddResidualBlock).
	RobustLossDelta float64
}

// Problem is a fully built bundle-adjustment problem: one Residual per
// observation, each wired to the live ParameterStore sub-slices its
// camera-sharing policy calls for.
type Problem struct {
	Store     *calibration.ParameterStore
	Mode      Mode
	Variant   Variant
	Residuals []*Residual
}

// NewProblem resolves the optimization variant from mode, then builds one
// Residual per observation. When mode.ShareCameraModel is set, every
// observation's intrinsic (focal/principal/dist) block is redirected to
// camera 0 — extrinsics (rotation/translation) are never redirected,
// matching BundleAdjuster::optimize's cidShared handling.
func NewProblem(store *calibration.ParameterStore, observations []calibration.Observation, mode Mode) (*Problem, error) {
	variant, err := ResolveVariant(mode.OptimizeIntrinsic, mode.OptimizeRadial, mode.OptimizeExtrinsic)
	if err != nil {
		return nil, err
	}
	// Distortion is only ever optimized together with the other intrinsics.
	if !mode.OptimizeIntrinsic {
		mode.OptimizeRadial = false
	}

	residuals := make([]*Residual, 0, len(observations))
	for i, obs := range observations {
		if obs.CameraID < 0 || obs.CameraID >= store.NumCameras() {
			return nil, errors.Errorf("observation %d: camera id %d out of range", i, obs.CameraID)
		}
		if obs.PointID < 0 || obs.PointID >= store.NumModelPoints() {
			return nil, errors.Errorf("observation %d: point id %d out of range", i, obs.PointID)
		}
		if obs.FrameID < 0 || obs.FrameID >= store.NumFrames() {
			return nil, errors.Errorf("observation %d: frame id %d out of range", i, obs.FrameID)
		}

		cid := obs.CameraID
		cidShared := cid
		if mode.ShareCameraModel {
			cidShared = 0
		}
		dims := store.CameraDims(cid)

		residuals = append(residuals, &Residual{
			Variant:          variant,
			FrameID:          obs.FrameID,
			CameraID:         cid,
			IntrinsicOwner:   cidShared,
			ModelPoint:       store.ModelPoint(obs.PointID),
			ObservedU:        obs.U,
			ObservedV:        obs.V,
			Width:            dims.Width,
			Height:           dims.Height,
			FrameRotation:    store.FrameRotation(obs.FrameID),
			FrameTranslation: store.FrameTranslation(obs.FrameID),
			CamRotation:      store.CameraRotation(cid),
			CamTranslation:   store.CameraTranslation(cid),
			Focal:            store.CameraFocal(cidShared),
			Principal:        store.CameraPrincipal(cidShared),
			Dist:             store.CameraDist(cidShared),
			ExtrinsicActive:  mode.OptimizeExtrinsic,
			IntrinsicActive:  mode.OptimizeIntrinsic,
			RadialActive:     mode.OptimizeRadial,
		})
	}

	return &Problem{Store: store, Mode: mode, Variant: variant, Residuals: residuals}, nil
}

// LogCameras writes a diagnostic dump of every camera's current
// parameters, mirroring BundleAdjuster::printCameras.
func (p *Problem) LogCameras(logger golog.Logger) {
	logger.Info("----------------------------")
	logger.Info("CAMERAS")
	for cid := 0; cid < p.Store.NumCameras(); cid++ {
		focal := p.Store.CameraFocal(cid)
		principal := p.Store.CameraPrincipal(cid)
		dist := p.Store.CameraDist(cid)
		rot := p.Store.CameraRotation(cid)
		trans := p.Store.CameraTranslation(cid)
		logger.Infof("\tCAM %d", cid)
		logger.Infof("\tFocals= %v / %v", focal[0], focal[1])
		logger.Infof("\tPrincipals= %v / %v", principal[0], principal[1])
		logger.Infof("\tRadials= %v / %v / %v / %v / %v", dist[0], dist[1], dist[2], dist[3], dist[4])
		logger.Infof("\tCam rotation= %v / %v / %v", rot[0], rot[1], rot[2])
		logger.Infof("\tCam translation= %v / %v / %v", trans[0], trans[1], trans[2])
		logger.Info("\t-------------")
	}
	logger.Info("----------------------------")
}

// Banner returns the human-readable description of what this problem
// optimizes, for use in a startup log line.
func (p *Problem) Banner() string {
	return p.Variant.String()
}

// BroadcastSharedIntrinsics copies camera 0's focal/principal/distortion
// block into every other camera's (otherwise dormant) intrinsic storage.
// Under ShareCameraModel every Residual already points its live intrinsic
// references at camera 0, so the solver only ever updates camera 0's
// storage; this call brings the other cameras' storage back into
// agreement before the Serializer reads it, per spec.md §3's shared-
// intrinsics invariant. A no-op when ShareCameraModel is false.
func (p *Problem) BroadcastSharedIntrinsics() {
	if !p.Mode.ShareCameraModel {
		return
	}
	focal0 := p.Store.CameraFocal(0)
	principal0 := p.Store.CameraPrincipal(0)
	dist0 := p.Store.CameraDist(0)
	for cid := 1; cid < p.Store.NumCameras(); cid++ {
		copy(p.Store.CameraFocal(cid), focal0)
		copy(p.Store.CameraPrincipal(cid), principal0)
		copy(p.Store.CameraDist(cid), dist0)
	}
}
