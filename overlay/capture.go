// Package overlay captures read-only debug frames of the crowd simulation and
// ships them to disk or to a loopback websocket observer.
package overlay

import (
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/crowdflow/sim"
	"github.com/pthm-cable/crowdflow/systems"
)

// Source is the read-only surface a frame is captured from. *sim.Sim satisfies it.
type Source interface {
	Tick() int64
	Grid() *systems.CostView
	Field(key systems.GoalKey) (*systems.Field, bool)
	Agents(dst []sim.AgentState) []sim.AgentState
}

// Frame is a self-contained copy of the grid, one field, and the agents.
// Nothing in it aliases simulation memory.
type Frame struct {
	Tick     int64   `json:"tick"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	CellSize float64 `json:"cell_size"`
	OriginX  float64 `json:"origin_x"`
	OriginZ  float64 `json:"origin_z"`

	Costs []uint8 `json:"costs"`

	// Empty when no field was requested or the key is not cached.
	Key         string    `json:"key,omitempty"`
	Integration []uint32  `json:"integration,omitempty"`
	DirX        []float32 `json:"dir_x,omitempty"`
	DirZ        []float32 `json:"dir_z,omitempty"`

	Agents []AgentFrame `json:"agents"`
}

// AgentFrame is one agent's overlay state.
type AgentFrame struct {
	ID      uint64  `json:"id"`
	X       float64 `json:"x"`
	Z       float64 `json:"z"`
	VX      float64 `json:"vx"`
	VZ      float64 `json:"vz"`
	Radius  float64 `json:"r"`
	Blocked bool    `json:"blocked,omitempty"`
	Arrived bool    `json:"arrived,omitempty"`
}

// Capture copies the current grid, the field for key (if cached), and every
// agent's velocity and blocked flag. An empty key skips the field.
func Capture(src Source, key systems.GoalKey) Frame {
	view := src.Grid()
	origin := view.Origin()
	f := Frame{
		Tick:     src.Tick(),
		Width:    view.Width(),
		Height:   view.Height(),
		CellSize: view.CellSize(),
		OriginX:  origin.X,
		OriginZ:  origin.Y,
		Costs:    view.Values(),
	}

	if key != "" {
		if field, ok := src.Field(key); ok {
			f.Key = string(key)
			f.Integration = field.IntegrationValues()
			f.DirX, f.DirZ = field.DirectionValues()
		}
	}

	agents := src.Agents(nil)
	f.Agents = make([]AgentFrame, len(agents))
	for i, a := range agents {
		f.Agents[i] = AgentFrame{
			ID:      uint64(a.ID),
			X:       a.Position.X,
			Z:       a.Position.Y,
			VX:      a.Velocity.X,
			VZ:      a.Velocity.Y,
			Radius:  a.Radius,
			Blocked: a.Blocked,
			Arrived: a.Arrived,
		}
	}
	return f
}

// Direction returns the stored direction of cell (x, z), or zero when the
// frame carries no field or the cell is out of range.
func (f *Frame) Direction(x, z int) r2.Vec {
	if len(f.DirX) == 0 || x < 0 || z < 0 || x >= f.Width || z >= f.Height {
		return r2.Vec{}
	}
	i := z*f.Width + x
	return r2.Vec{X: float64(f.DirX[i]), Y: float64(f.DirZ[i])}
}

// BlockedCount returns the number of blocked agents in the frame.
func (f *Frame) BlockedCount() int {
	n := 0
	for _, a := range f.Agents {
		if a.Blocked {
			n++
		}
	}
	return n
}
