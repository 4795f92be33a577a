package overlay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/crowdflow/config"
	"github.com/pthm-cable/crowdflow/sim"
	"github.com/pthm-cable/crowdflow/systems"
)

func newSim(t *testing.T) (*sim.Sim, systems.FieldHandle) {
	t.Helper()
	cfg := config.Default()
	cfg.Grid.Width = 16
	cfg.Grid.Height = 12
	cfg.Grid.CellSize = 1
	cfg.Scaling.BatchSize = 0

	grid, err := sim.NewGrid(cfg.Grid)
	require.NoError(t, err)
	s, err := sim.New(cfg, grid, sim.Options{})
	require.NoError(t, err)

	s.MarkRegion(r2.Box{Min: r2.Vec{X: 8, Y: 0}, Max: r2.Vec{X: 9, Y: 6}}, systems.CostImpassable)
	h, err := s.RequestField(context.Background(), r2.Vec{X: 14.5, Y: 2.5})
	require.NoError(t, err)

	for _, p := range []r2.Vec{{X: 2.5, Y: 2.5}, {X: 3.5, Y: 9.5}} {
		id := s.Spawn(p)
		require.NoError(t, s.SetDestination(id, h, r2.Vec{}, systems.BehaviorFlow))
	}
	require.NoError(t, s.Step(context.Background()))
	return s, h
}

func TestCaptureCopiesState(t *testing.T) {
	s, h := newSim(t)

	frame := Capture(s, h.Key)
	assert.Equal(t, int64(1), frame.Tick)
	assert.Equal(t, 16, frame.Width)
	assert.Equal(t, 12, frame.Height)
	require.Len(t, frame.Costs, 16*12)
	require.Len(t, frame.Integration, 16*12)
	require.Len(t, frame.Agents, 2)
	assert.Equal(t, string(h.Key), frame.Key)

	wall := 2*16 + 8
	assert.Equal(t, systems.CostImpassable, frame.Costs[wall])
	assert.Equal(t, systems.Unreachable, frame.Integration[wall])
	assert.Equal(t, r2.Vec{}, frame.Direction(8, 2))
	assert.NotEqual(t, r2.Vec{}, frame.Direction(2, 2))

	// Writing to the frame must not reach the simulation.
	frame.Costs[0] = systems.CostImpassable
	frame.Integration[0] = 0
	frame.DirX[0] = 42
	assert.True(t, s.Grid().IsWalkable(systems.Cell{X: 0, Z: 0}))
	field, ok := s.Field(h.Key)
	require.True(t, ok)
	assert.NotZero(t, field.Integration(systems.Cell{X: 0, Z: 0}))
	assert.NotEqual(t, 42.0, field.Direction(systems.Cell{X: 0, Z: 0}).X)
}

func TestCaptureWithoutField(t *testing.T) {
	s, _ := newSim(t)

	frame := Capture(s, "")
	assert.Empty(t, frame.Key)
	assert.Nil(t, frame.Integration)
	assert.Equal(t, r2.Vec{}, frame.Direction(2, 2))
	assert.Len(t, frame.Agents, 2)
	assert.Zero(t, frame.BlockedCount())
}

func TestSnapshotRoundTrip(t *testing.T) {
	s, h := newSim(t)
	frame := Capture(s, h.Key)

	path := filepath.Join(t.TempDir(), "dumps", "frame.zst")
	require.NoError(t, WriteSnapshot(path, frame))

	hdr, got, err := ReadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, SnapshotVersion, hdr.Version)
	assert.Equal(t, frame.Tick, hdr.Tick)
	assert.Equal(t, frame.Key, hdr.Key)
	assert.Equal(t, frame, got)
}

func TestReadSnapshotMissing(t *testing.T) {
	_, _, err := ReadSnapshot(filepath.Join(t.TempDir(), "nope.zst"))
	assert.Error(t, err)
}

func TestServerPublish(t *testing.T) {
	s, h := newSim(t)
	srv := NewServer()
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return srv.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	frame := Capture(s, h.Key)
	require.NoError(t, srv.Publish(frame))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)

	var got Frame
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, frame.Tick, got.Tick)
	assert.Equal(t, frame.Integration, got.Integration)
	assert.Len(t, got.Agents, 2)

	conn.Close()
	require.Eventually(t, func() bool { return srv.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestIsLoopbackRemote(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:5000", true},
		{"[::1]:5000", true},
		{"10.0.0.4:5000", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			assert.Equal(t, tt.want, isLoopbackRemote(tt.addr))
		})
	}
}

func TestIsLocalOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:8080", true},
		{"http://LOCALHOST", true},
		{"http://127.0.0.1:3000", true},
		{"http://[::1]:3000", true},
		{"https://evil.example", false},
		{"http://10.0.0.4", false},
		{"null", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/overlay", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, isLocalOrigin(r))
		})
	}
}

func TestServerRejectsForeignOrigin(t *testing.T) {
	srv := NewServer()
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://evil.example"}})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, srv.Clients())
}
