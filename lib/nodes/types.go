package nodes

import (
	"math"
	"time"
)

// Vector2 is a position on the field in meters.
type Vector2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns v + o.
func (v Vector2) Add(o Vector2) Vector2 {
	return Vector2{X: v.X + o.X, Y: v.Y + o.Y}
}

// Sub returns v - o.
func (v Vector2) Sub(o Vector2) Vector2 {
	return Vector2{X: v.X - o.X, Y: v.Y - o.Y}
}

// Scale returns f * v.
func (v Vector2) Scale(f float64) Vector2 {
	return Vector2{X: f * v.X, Y: f * v.Y}
}

// Norm is the euclidean length of v.
func (v Vector2) Norm() float64 {
	return math.Hypot(v.X, v.Y)
}

// CycleTime is the time information of one cycle.
type CycleTime struct {
	StartTime         time.Time     `json:"start_time"`
	LastCycleDuration time.Duration `json:"last_cycle_duration"`
}

// BallFilterDebug is the additional output of the ball filter.
type BallFilterDebug struct {
	Measurements int       `json:"measurements"`
	Residuals    []float64 `json:"residuals"`
	Estimate     Vector2   `json:"estimate"`
}

// TeamMessage is the payload the robots exchange on the team network.
type TeamMessage struct {
	Player       string   `json:"player"`
	BallPosition *Vector2 `json:"ball_position,omitempty"`
}
