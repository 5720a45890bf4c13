package nodes

import (
	"fmt"
	"math"
	"strings"

	"github.com/ValentinKolb/dCycle/lib/hardware"
	"github.com/ValentinKolb/dCycle/lib/node"
)

// cameraOf derives the camera of a vision cycler instance from its name, e.g. VisionTop -> Top.
func cameraOf(cycler string) (hardware.CameraPosition, error) {
	position := hardware.CameraPosition(strings.TrimPrefix(cycler, "Vision"))
	switch position {
	case hardware.CameraTop, hardware.CameraBottom:
		return position, nil
	default:
		return "", fmt.Errorf("cycler %s is no vision cycler instance (VisionTop, VisionBottom)", cycler)
	}
}

// --------------------------------------------------------------------------
// ImageReceiver
// --------------------------------------------------------------------------

// ImageReceiver blocks until the camera of the cycler instance delivers the next frame. It paces
// the free running vision cyclers.
var ImageReceiver = &node.Descriptor{
	Name:        "ImageReceiver",
	Source:      "lib/nodes/vision.go",
	MainOutputs: []node.Output{{Name: "image", Type: hardware.Image{}}},
	New: func(ctx *node.CreationContext) (node.Node, error) {
		camera, ok := ctx.Hardware().(hardware.ICamera)
		if !ok {
			return nil, fmt.Errorf("hardware interface %T has no cameras", ctx.Hardware())
		}
		position, err := cameraOf(ctx.Cycler())
		if err != nil {
			return nil, err
		}
		return node.NodeFunc(func(ctx *node.CycleContext) error {
			image, err := camera.ReadImage(ctx.Context(), position)
			if err != nil {
				return fmt.Errorf("reading %s camera: %w", position, err)
			}
			return node.SetMainOutput(ctx, "image", image)
		}), nil
	},
}

// --------------------------------------------------------------------------
// CycleCounter
// --------------------------------------------------------------------------

// CycleCounter numbers the successful cycles of its cycler, starting at 1.
var CycleCounter = &node.Descriptor{
	Name:            "CycleCounter",
	Source:          "lib/nodes/vision.go",
	MainOutputs:     []node.Output{{Name: "last_cycle_id", Type: uint64(0)}},
	PersistentState: []string{"cycles"},
	New: func(*node.CreationContext) (node.Node, error) {
		return node.NodeFunc(func(ctx *node.CycleContext) error {
			cycles, err := node.PersistentState[uint64](ctx, "cycles")
			if err != nil {
				return err
			}
			*cycles++
			return node.SetMainOutput(ctx, "last_cycle_id", *cycles)
		}), nil
	},
}

// --------------------------------------------------------------------------
// BallDetection
// --------------------------------------------------------------------------

type ballDetectionParameters struct {
	OrbitRadius float64 `json:"orbit_radius"`
	// AngularSpeed is the movement of the synthetic ball per frame in radians.
	AngularSpeed float64 `json:"angular_speed"`
	// DetectionInterval detects a ball in every n-th frame only.
	DetectionInterval uint64 `json:"detection_interval"`
}

// BallDetection stands in for the ball detection. It reports a ball that orbits the field center,
// the bottom camera sees it on a smaller orbit.
var BallDetection = &node.Descriptor{
	Name:        "BallDetection",
	Source:      "lib/nodes/vision.go",
	Parameters:  []string{"ball_detection"},
	Inputs:      []node.InputBinding{{Name: "image", Kind: node.InputLocal, Required: true}},
	MainOutputs: []node.Output{{Name: "balls", Type: []Vector2{}}},
	New: func(ctx *node.CreationContext) (node.Node, error) {
		if _, err := node.Parameter[ballDetectionParameters](ctx, "ball_detection"); err != nil {
			return nil, err
		}
		position, err := cameraOf(ctx.Cycler())
		if err != nil {
			return nil, err
		}
		scale := 1.0
		if position == hardware.CameraBottom {
			scale = 0.5
		}

		return node.NodeFunc(func(ctx *node.CycleContext) error {
			params, err := node.Parameter[ballDetectionParameters](ctx, "ball_detection")
			if err != nil {
				return err
			}
			image, err := node.RequiredInput[hardware.Image](ctx, "image")
			if err != nil {
				return err
			}

			balls := []Vector2{}
			if params.DetectionInterval <= 1 || image.Sequence%params.DetectionInterval == 0 {
				angle := float64(image.Sequence) * params.AngularSpeed
				radius := scale * params.OrbitRadius
				balls = append(balls, Vector2{X: radius * math.Cos(angle), Y: radius * math.Sin(angle)})
			}
			return node.SetMainOutput(ctx, "balls", balls)
		}), nil
	},
}
