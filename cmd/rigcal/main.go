// Command rigcal is the optimizer driver: it reads an input calibration
// document, builds the bundle-adjustment problem for the requested
// optimization mode, runs the Levenberg-Marquardt solve, and writes the
// refined cameras and object poses back out. See spec.md §6 for the exact
// flag surface and document schemas this mirrors.
package main

import (
	"fmt"
	"os"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/freicalib/rigcal/bundle"
	"github.com/freicalib/rigcal/calibration"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "rigcal",
		Usage: "refine multi-camera rig calibration by reprojection-error bundle adjustment",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "i", Usage: "input calibration document path"},
			&cli.StringFlag{Name: "o", Usage: "output calibration document path"},
			&cli.BoolFlag{Name: "k", Usage: "optimize camera intrinsics (focal, principal; distortion too if -r is also set)"},
			&cli.BoolFlag{Name: "r", Usage: "optimize radial/tangential distortion (only has effect with -k)"},
			&cli.BoolFlag{Name: "m", Usage: "optimize camera extrinsics"},
			&cli.BoolFlag{Name: "s", Usage: "share intrinsic model across all cameras, stored in camera 0"},
			&cli.BoolFlag{Name: "v", Usage: "verbose: dump every camera's parameters before optimizing"},
			&cli.Float64Flag{Name: "huber", Usage: "Huber robust-loss delta applied to reprojection residuals; 0 disables it", Value: 0},
		},
		Action: runOptimize,
	}
}

// runOptimize wires Serializer -> ParameterStore -> Problem Builder ->
// Solver Driver -> Serializer, per spec.md §2's data flow (the Detector
// Pool stage is a separate upstream caller of the fiducial package; this
// binary always starts from a document whose ObservedPoints are already
// populated).
func runOptimize(c *cli.Context) error {
	inputPath := c.String("i")
	outputPath := c.String("o")
	if inputPath == "" || outputPath == "" {
		fmt.Fprintln(os.Stderr, "rigcal: -i and -o are both required")
		os.Exit(1)
	}
	if _, err := os.Stat(inputPath); err != nil {
		fmt.Fprintf(os.Stderr, "rigcal: input document %q does not exist\n", inputPath)
		os.Exit(1)
	}

	logger := golog.NewDevelopmentLogger("rigcal")
	if c.Bool("v") {
		logger = golog.NewDebugLogger("rigcal")
	}

	doc, err := calibration.ParseDocument(inputPath)
	if err != nil {
		// Schema errors are diagnostic, not fatal-to-the-process in the
		// stderr sense: spec.md §7 puts them on stdout.
		fmt.Println(err)
		os.Exit(1)
	}

	store, err := calibration.NewParameterStore(doc.Cameras, doc.ObjectPoses, doc.ModelPoints)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	mode := bundle.Mode{
		OptimizeIntrinsic: c.Bool("k"),
		OptimizeRadial:    c.Bool("r"),
		OptimizeExtrinsic: c.Bool("m"),
		ShareCameraModel:  c.Bool("s"),
		RobustLossDelta:   c.Float64("huber"),
	}

	problem, err := bundle.NewProblem(store, doc.Observations, mode)
	if err != nil {
		return errors.Wrap(err, "building bundle-adjustment problem")
	}

	if c.Bool("v") {
		problem.LogCameras(logger)
	}

	solver := bundle.NewSolver(logger)
	result := solver.Run(problem)
	if !result.Converged {
		logger.Warnf("solve did not reach the function-tolerance stopping criterion within %d iterations; "+
			"emitting the last iterate (final cost %v)", solver.MaxIterations, result.FinalCost)
	}

	// Shared-intrinsics mode leaves cameras 1..N's intrinsic storage
	// dormant; bring it back into agreement with camera 0 before writing.
	problem.BroadcastSharedIntrinsics()

	cameras := make([][]float64, store.NumCameras())
	for cid := range cameras {
		cameras[cid] = store.CameraRow(cid)
	}
	poses := make([][]float64, store.NumFrames())
	for fid := range poses {
		poses[fid] = store.PoseRow(fid)
	}

	status := calibration.SolverStatus{
		Converged:   result.Converged,
		Iterations:  result.Iterations,
		InitialCost: result.InitialCost,
		FinalCost:   result.FinalCost,
	}

	if err := calibration.WriteDocument(outputPath, cameras, poses, status); err != nil {
		return errors.Wrapf(err, "writing output document %q", outputPath)
	}

	return nil
}
