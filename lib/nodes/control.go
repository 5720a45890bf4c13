package nodes

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ValentinKolb/dCycle/lib/hardware"
	"github.com/ValentinKolb/dCycle/lib/node"
)

// --------------------------------------------------------------------------
// CycleTimer
// --------------------------------------------------------------------------

// CycleTimer publishes the start time of the cycle and the duration of the previous one.
var CycleTimer = &node.Descriptor{
	Name:            "CycleTimer",
	Source:          "lib/nodes/control.go",
	MainOutputs:     []node.Output{{Name: "cycle_time", Type: CycleTime{}}},
	PersistentState: []string{"last_cycle_start"},
	New: func(*node.CreationContext) (node.Node, error) {
		return node.NodeFunc(cycleTimer), nil
	},
}

func cycleTimer(ctx *node.CycleContext) error {
	last, err := node.PersistentState[time.Time](ctx, "last_cycle_start")
	if err != nil {
		return err
	}
	now := ctx.CycleStartTime()
	var duration time.Duration
	if !last.IsZero() {
		duration = now.Sub(*last)
	}
	*last = now
	return node.SetMainOutput(ctx, "cycle_time", CycleTime{StartTime: now, LastCycleDuration: duration})
}

// --------------------------------------------------------------------------
// VisionMonitor
// --------------------------------------------------------------------------

// VisionMonitor republishes the latest cycle id of the top vision cycler seen by the control cycler.
var VisionMonitor = &node.Descriptor{
	Name:   "VisionMonitor",
	Source: "lib/nodes/control.go",
	Inputs: []node.InputBinding{
		{Name: "vision_cycle", Kind: node.InputPeer, Cycler: "VisionTop", Output: "last_cycle_id"},
	},
	MainOutputs: []node.Output{{Name: "observed_vision_cycle", Type: uint64(0)}},
	New: func(*node.CreationContext) (node.Node, error) {
		return node.NodeFunc(func(ctx *node.CycleContext) error {
			id, ok, err := node.Input[uint64](ctx, "vision_cycle")
			if err != nil || !ok {
				return err
			}
			return node.SetMainOutput(ctx, "observed_vision_cycle", id)
		}), nil
	},
}

// --------------------------------------------------------------------------
// BallFilter
// --------------------------------------------------------------------------

type ballFilterParameters struct {
	Smoothing   float64 `json:"smoothing"`
	MaxResidual float64 `json:"max_residual"`
}

// BallFilter fuses the ball detections of both cameras into one ball position. Each detection is
// compared with the estimate the filter had when the image was taken.
//
// The additional output debug_field is only computed while a client requests it,
// debug_field_computations counts how often that happened.
var BallFilter = &node.Descriptor{
	Name:       "BallFilter",
	Source:     "lib/nodes/control.go",
	Parameters: []string{"ball_filter"},
	Inputs: []node.InputBinding{
		{Name: "balls_top", Kind: node.InputPerception, Cycler: "VisionTop", Output: "balls"},
		{Name: "balls_bottom", Kind: node.InputPerception, Cycler: "VisionBottom", Output: "balls"},
		{Name: "ball_position_history", Kind: node.InputHistoric, Output: "ball_position"},
	},
	MainOutputs: []node.Output{
		{Name: "ball_position", Type: Vector2{}},
		{Name: "debug_field_computations", Type: uint64(0)},
	},
	AdditionalOutputs: []node.Output{{Name: "debug_field", Type: BallFilterDebug{}}},
	PersistentState:   []string{"ball_estimate", "debug_field_computations"},
	New: func(ctx *node.CreationContext) (node.Node, error) {
		params, err := node.Parameter[ballFilterParameters](ctx, "ball_filter")
		if err != nil {
			return nil, err
		}
		if params.Smoothing < 0 || params.Smoothing > 1 {
			return nil, fmt.Errorf("ball_filter.smoothing must be within [0, 1], got %v", params.Smoothing)
		}
		return node.NodeFunc(cycleBallFilter), nil
	},
}

func cycleBallFilter(ctx *node.CycleContext) error {
	params, err := node.Parameter[ballFilterParameters](ctx, "ball_filter")
	if err != nil {
		return err
	}
	estimate, err := node.PersistentState[*Vector2](ctx, "ball_estimate")
	if err != nil {
		return err
	}
	computations, err := node.PersistentState[uint64](ctx, "debug_field_computations")
	if err != nil {
		return err
	}

	measurements := 0
	var residuals []float64
	for _, input := range []string{"balls_top", "balls_bottom"} {
		view, err := node.Perception[[]Vector2](ctx, input)
		if err != nil {
			return err
		}
		for _, entry := range view.Persistent {
			for _, balls := range entry.Items {
				for _, ball := range balls {
					measurements++
					if *estimate == nil {
						start := ball
						*estimate = &start
						continue
					}
					prior, ok, err := node.Historic[Vector2](ctx, "ball_position_history", entry.Timestamp)
					if err != nil {
						return err
					}
					if !ok {
						prior = **estimate
					}
					residual := ball.Sub(prior)
					residuals = append(residuals, residual.Norm())
					if params.MaxResidual > 0 && residual.Norm() > params.MaxResidual {
						continue
					}
					updated := (*estimate).Add(residual.Scale(params.Smoothing))
					*estimate = &updated
				}
			}
		}
		if err := node.ResetPerception(ctx, input); err != nil {
			return err
		}
	}

	if *estimate != nil {
		if err := node.SetMainOutput(ctx, "ball_position", **estimate); err != nil {
			return err
		}
	}

	err = ctx.AdditionalOutput("debug_field").Fill(func() (any, error) {
		*computations++
		debug := BallFilterDebug{Measurements: measurements, Residuals: residuals}
		if *estimate != nil {
			debug.Estimate = **estimate
		}
		return debug, nil
	})
	if err != nil {
		return err
	}
	return node.SetMainOutput(ctx, "debug_field_computations", *computations)
}

// --------------------------------------------------------------------------
// TeamCommunication
// --------------------------------------------------------------------------

type teamCommunicationParameters struct {
	Player       string `json:"player"`
	SendInterval int    `json:"send_interval"`
}

type teamCommunicationState struct {
	Cycles   uint64
	Received uint64
	TeamBall *Vector2
}

// TeamCommunication decodes the messages of the team mates and periodically sends the own ball
// position. Payloads are msgpack encoded TeamMessages.
var TeamCommunication = &node.Descriptor{
	Name:       "TeamCommunication",
	Source:     "lib/nodes/control.go",
	Parameters: []string{"team_communication"},
	Inputs: []node.InputBinding{
		{Name: "messages", Kind: node.InputPerception, Cycler: "SPLNetwork", Output: "message"},
		{Name: "ball_position", Kind: node.InputLocal},
	},
	MainOutputs: []node.Output{
		{Name: "received_messages", Type: uint64(0)},
		{Name: "team_ball", Type: Vector2{}},
	},
	PersistentState: []string{"team_communication"},
	New: func(ctx *node.CreationContext) (node.Node, error) {
		params, err := node.Parameter[teamCommunicationParameters](ctx, "team_communication")
		if err != nil {
			return nil, err
		}
		if params.Player == "" {
			return nil, fmt.Errorf("team_communication.player is empty")
		}
		network, _ := ctx.Hardware().(hardware.INetwork)
		return node.NodeFunc(func(ctx *node.CycleContext) error {
			return cycleTeamCommunication(ctx, network)
		}), nil
	},
}

func cycleTeamCommunication(ctx *node.CycleContext, network hardware.INetwork) error {
	params, err := node.Parameter[teamCommunicationParameters](ctx, "team_communication")
	if err != nil {
		return err
	}
	state, err := node.PersistentState[teamCommunicationState](ctx, "team_communication")
	if err != nil {
		return err
	}
	state.Cycles++

	view, err := node.Perception[hardware.NetworkMessage](ctx, "messages")
	if err != nil {
		return err
	}
	for _, message := range view.Temporary {
		state.Received++
		var decoded TeamMessage
		if err := msgpack.Unmarshal(message.Payload, &decoded); err != nil {
			Logger.Debugf("dropping team message of %s: %v", message.Sender, err)
			continue
		}
		if decoded.Player == params.Player || decoded.BallPosition == nil {
			continue
		}
		ball := *decoded.BallPosition
		state.TeamBall = &ball
	}

	if network != nil && params.SendInterval > 0 && state.Cycles%uint64(params.SendInterval) == 0 {
		outgoing := TeamMessage{Player: params.Player}
		if ball, ok, err := node.Input[Vector2](ctx, "ball_position"); err != nil {
			return err
		} else if ok {
			outgoing.BallPosition = &ball
		}
		payload, err := msgpack.Marshal(&outgoing)
		if err != nil {
			return err
		}
		if err := network.WriteToNetwork(hardware.NetworkMessage{Sender: params.Player, Payload: payload}); err != nil {
			return fmt.Errorf("sending team message: %w", err)
		}
	}

	if err := node.SetMainOutput(ctx, "received_messages", state.Received); err != nil {
		return err
	}
	if state.TeamBall != nil {
		return node.SetMainOutput(ctx, "team_ball", *state.TeamBall)
	}
	return nil
}
