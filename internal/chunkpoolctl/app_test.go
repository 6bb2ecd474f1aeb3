package chunkpoolctl

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/chunkpool/internal/chunkpool/configuration"
)

const teleportedId = "2f9c0a9e-51f4-4a8f-8a4c-1b7f0cbb2a11"

const testManifest = `
tables:
  - name: orders
    teleportable: true
  - name: events
chunks:
  - id: ` + teleportedId + `
    table: orders
    minKey: [1]
    maxKey: [10]
    rowCount: 100
    dataSize: 1Mi
  - table: orders
    minKey: [20]
    maxKey: [30]
    rowCount: 100
    dataSize: 1Mi
  - table: events
    minKey: [25]
    maxKey: [40]
    rowCount: 50
    dataSize: 512Ki
`

func testApp(t *testing.T, dump bool) (*App, *bytes.Buffer, string) {
	config := configuration.Default()
	config.MinTeleportChunkSize = 0
	buf := new(bytes.Buffer)
	app := &App{
		Params: &Params{Config: config, Dump: dump},
		Out:    buf,
	}
	path := filepath.Join(t.TempDir(), "chunks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testManifest), 0o600))
	return app, buf, path
}

func TestPlan(t *testing.T) {
	app, buf, path := testApp(t, false)
	require.NoError(t, app.Plan(path))

	out := buf.String()
	for _, s := range []string{"Job", "pending", "orders,events", "Teleported chunk", teleportedId, "[1]", "[10]"} {
		assert.Contains(t, out, s)
	}
	assert.NotContains(t, out, "Cookie:")
}

func TestPlan_Dump(t *testing.T) {
	app, buf, path := testApp(t, true)
	require.NoError(t, app.Plan(path))
	assert.Contains(t, buf.String(), "Cookie:")
}

func TestPlan_MissingManifest(t *testing.T) {
	app, _, _ := testApp(t, false)
	assert.Error(t, app.Plan(filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestSnapshotAndInspect(t *testing.T) {
	app, buf, path := testApp(t, false)
	out := filepath.Join(t.TempDir(), "pool.snapshot")
	require.NoError(t, app.Snapshot(path, out))
	assert.Contains(t, buf.String(), "with 1 jobs written to")
	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	buf.Reset()
	require.NoError(t, app.Inspect(out))
	inspected := buf.String()
	assert.Contains(t, inspected, "finished: true")
	assert.Contains(t, inspected, "Created ")
	assert.Contains(t, inspected, teleportedId)
	// Table names are not part of a snapshot.
	assert.Contains(t, inspected, "#0,#1")
}

func TestInspect_RejectsGarbage(t *testing.T) {
	app, _, _ := testApp(t, false)
	path := filepath.Join(t.TempDir(), "garbage")
	require.NoError(t, os.WriteFile(path, []byte("not a snapshot"), 0o600))
	assert.Error(t, app.Inspect(path))
}
