package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/crowdflow/config"
)

func TestOutputManagerDisabled(t *testing.T) {
	om, err := NewOutputManager("")
	require.NoError(t, err)
	assert.Nil(t, om)

	// A nil manager accepts writes.
	assert.NoError(t, om.WriteTelemetry(WindowStats{}))
	assert.NoError(t, om.WritePerf(PerfStats{}, 0))
	assert.NoError(t, om.WriteBookmark(Bookmark{}))
	assert.NoError(t, om.WriteConfig(config.Default()))
	assert.Empty(t, om.Dir())
	assert.Empty(t, om.Path("final.snap.zst"))
	assert.NoError(t, om.Close())
}

func TestOutputManagerWritesHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	om, err := NewOutputManager(dir)
	require.NoError(t, err)

	require.NoError(t, om.WriteTelemetry(WindowStats{WindowEndTick: 60, Agents: 10}))
	require.NoError(t, om.WriteTelemetry(WindowStats{WindowEndTick: 120, Agents: 12}))
	require.NoError(t, om.WriteBookmark(Bookmark{Type: BookmarkAllArrived, Tick: 120, Description: "done"}))
	require.NoError(t, om.WriteConfig(config.Default()))
	require.NoError(t, om.Close())
	assert.Equal(t, filepath.Join(dir, "x.zst"), om.Path("x.zst"))

	data, err := os.ReadFile(filepath.Join(dir, "telemetry.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "window_end,sim_time,agents"))
	assert.True(t, strings.HasPrefix(lines[2], "120,"))

	data, err = os.ReadFile(filepath.Join(dir, "bookmarks.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "all_arrived,120,done")

	loaded, err := config.Load(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.Default().Grid, loaded.Grid)
}
