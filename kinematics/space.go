// Package kinematics moves agents as rigid circles in a cp physics space,
// colliding them with each other and with impassable grid cells.
package kinematics

import (
	"fmt"

	"github.com/jakecoffman/cp"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/crowdflow/components"
	"github.com/pthm-cable/crowdflow/sim"
	"github.com/pthm-cable/crowdflow/systems"
)

const (
	collisionTypeAgent cp.CollisionType = iota + 1
	collisionTypeSolid
)

const (
	agentMass   = 1.0
	wallRadius  = 0.0
	borderWidth = 0.05
)

// Host is the simulation surface the space reads velocities from and writes
// positions back to. *sim.Sim satisfies it.
type Host interface {
	Agents(dst []sim.AgentState) []sim.AgentState
	SetPosition(id components.AgentID, p r2.Vec) error
	Grid() *systems.CostView
}

type agentBody struct {
	body  *cp.Body
	shape *cp.Shape
	seen  bool
}

// Space owns the cp space mirroring the crowd.
type Space struct {
	space *cp.Space

	bodies  map[components.AgentID]*agentBody
	statics []*cp.Shape

	gridVersion uint64
	hasGrid     bool

	scratch []sim.AgentState
}

// NewSpace creates an empty space with no gravity.
func NewSpace() *Space {
	space := cp.NewSpace()
	space.Iterations = 10
	space.SetGravity(cp.Vector{})
	return &Space{
		space:  space,
		bodies: make(map[components.AgentID]*agentBody),
	}
}

// Bodies returns the number of agent bodies.
func (s *Space) Bodies() int {
	return len(s.bodies)
}

// StaticShapes returns the number of static wall shapes.
func (s *Space) StaticShapes() int {
	return len(s.statics)
}

// SyncStatics rebuilds the wall shapes when the grid version changed. Each row
// run of impassable cells becomes one box; the grid border is closed with
// segments.
func (s *Space) SyncStatics(view *systems.CostView) {
	if s.hasGrid && view.Version() == s.gridVersion {
		return
	}
	for _, shape := range s.statics {
		s.space.RemoveShape(shape)
	}
	s.statics = s.statics[:0]

	origin := view.Origin()
	size := view.CellSize()
	w, h := view.Width(), view.Height()

	for z := 0; z < h; z++ {
		for x := 0; x < w; {
			if view.IsWalkable(systems.Cell{X: x, Z: z}) {
				x++
				continue
			}
			start := x
			for x < w && !view.IsWalkable(systems.Cell{X: x, Z: z}) {
				x++
			}
			bb := cp.BB{
				L: origin.X + float64(start)*size,
				R: origin.X + float64(x)*size,
				B: origin.Y + float64(z)*size,
				T: origin.Y + float64(z+1)*size,
			}
			s.addStatic(cp.NewBox2(s.space.StaticBody, bb, wallRadius))
		}
	}

	maxX := origin.X + float64(w)*size
	maxZ := origin.Y + float64(h)*size
	for _, seg := range []struct{ a, b cp.Vector }{
		{cp.Vector{X: origin.X, Y: origin.Y}, cp.Vector{X: maxX, Y: origin.Y}},
		{cp.Vector{X: origin.X, Y: maxZ}, cp.Vector{X: maxX, Y: maxZ}},
		{cp.Vector{X: origin.X, Y: origin.Y}, cp.Vector{X: origin.X, Y: maxZ}},
		{cp.Vector{X: maxX, Y: origin.Y}, cp.Vector{X: maxX, Y: maxZ}},
	} {
		s.addStatic(cp.NewSegment(s.space.StaticBody, seg.a, seg.b, borderWidth))
	}

	s.gridVersion = view.Version()
	s.hasGrid = true
}

func (s *Space) addStatic(shape *cp.Shape) {
	shape.SetCollisionType(collisionTypeSolid)
	shape.SetFriction(0)
	shape.SetElasticity(0)
	s.space.AddShape(shape)
	s.statics = append(s.statics, shape)
}

// Sync adds bodies for new agents, removes bodies of agents that are gone,
// and sets every body's velocity to the agent's steering velocity.
func (s *Space) Sync(agents []sim.AgentState) {
	for _, b := range s.bodies {
		b.seen = false
	}
	for _, a := range agents {
		b, ok := s.bodies[a.ID]
		if !ok {
			b = s.addAgent(a)
		}
		b.seen = true
		b.body.SetVelocity(a.Velocity.X, a.Velocity.Y)
	}
	for id, b := range s.bodies {
		if b.seen {
			continue
		}
		s.space.RemoveShape(b.shape)
		s.space.RemoveBody(b.body)
		delete(s.bodies, id)
	}
}

func (s *Space) addAgent(a sim.AgentState) *agentBody {
	// Infinite moment keeps circles from spinning on contact.
	body := cp.NewBody(agentMass, cp.INFINITY)
	body.SetPosition(cp.Vector{X: a.Position.X, Y: a.Position.Y})
	shape := cp.NewCircle(body, a.Radius, cp.Vector{})
	shape.SetCollisionType(collisionTypeAgent)
	shape.SetFriction(0)
	shape.SetElasticity(0)
	s.space.AddBody(body)
	s.space.AddShape(shape)

	b := &agentBody{body: body, shape: shape}
	s.bodies[a.ID] = b
	return b
}

// Step advances the physics space by dt.
func (s *Space) Step(dt float64) {
	s.space.Step(dt)
}

// Position returns the body position of an agent.
func (s *Space) Position(id components.AgentID) (r2.Vec, bool) {
	b, ok := s.bodies[id]
	if !ok {
		return r2.Vec{}, false
	}
	p := b.body.Position()
	return r2.Vec{X: p.X, Y: p.Y}, true
}

// Update runs one kinematic step for host: walls follow the grid, bodies
// follow the agents, the space steps by dt, and resolved positions are
// written back.
func (s *Space) Update(host Host, dt float64) error {
	s.SyncStatics(host.Grid())
	s.scratch = host.Agents(s.scratch[:0])
	s.Sync(s.scratch)
	s.Step(dt)

	for _, a := range s.scratch {
		p, ok := s.Position(a.ID)
		if !ok {
			continue
		}
		if err := host.SetPosition(a.ID, p); err != nil {
			return fmt.Errorf("writing position of agent %d: %w", a.ID, err)
		}
	}
	return nil
}
