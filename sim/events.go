package sim

import (
	"fmt"
	"log/slog"

	"github.com/pthm-cable/crowdflow/components"
	"github.com/pthm-cable/crowdflow/systems"
)

type eventKind uint8

const (
	eventDespawn eventKind = iota
	eventStop
)

func (k eventKind) String() string {
	if k == eventStop {
		return "stop"
	}
	return "despawn"
}

// event is a delayed lifecycle action on one agent.
type event struct {
	Kind  eventKind
	Agent components.AgentID
}

// DespawnAfter removes the agent at the start of the first step after ticks
// more steps have run. Zero or negative delays fire at the start of the next step.
func (s *Sim) DespawnAfter(id components.AgentID, ticks int64) error {
	return s.schedule(eventDespawn, id, ticks)
}

// StopAfter clears the agent's destination with the same timing as DespawnAfter.
func (s *Sim) StopAfter(id components.AgentID, ticks int64) error {
	return s.schedule(eventStop, id, ticks)
}

func (s *Sim) schedule(kind eventKind, id components.AgentID, ticks int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[id]; !ok {
		return fmt.Errorf("schedule %s for %d: %w", kind, id, ErrUnknownAgent)
	}
	s.events.After(s.tick, ticks, event{Kind: kind, Agent: id})
	return nil
}

// PendingEvents returns the number of scheduled events not yet fired.
func (s *Sim) PendingEvents() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events.Len()
}

// processEvents fires every event due at the current tick, in scheduling order.
func (s *Sim) processEvents() {
	var due []systems.Scheduled[event]
	due = s.events.Due(s.tick, due)
	for _, ev := range due {
		var err error
		switch ev.Payload.Kind {
		case eventDespawn:
			err = s.despawn(ev.Payload.Agent)
		case eventStop:
			err = s.stop(ev.Payload.Agent)
		}
		if err != nil {
			// The agent went away through another path first.
			slog.Debug("scheduled event skipped", "tick", s.tick, "event", ev.Payload.Kind.String(), "error", err)
		}
	}
}
