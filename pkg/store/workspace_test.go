package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nereus/pkg/api"
)

func testSpec() api.TaskSpec {
	return api.TaskSpec{
		Name:    "count",
		Command: "wc -l @{in.file} > @{out.count}",
		Inputs:  []api.InputPort{{Name: "file", File: true}},
		Outputs: []api.OutputPort{{Name: "count", Path: "lines.count"}},
	}
}

func TestFingerprintStability(t *testing.T) {
	spec := testSpec()
	in := map[string]interface{}{"file": "/data/a.txt"}

	fp1 := Fingerprint(spec, in)
	fp2 := Fingerprint(spec, map[string]interface{}{"file": "/data/a.txt"})
	assert.Equal(t, fp1, fp2)

	// Different input, different fingerprint.
	fp3 := Fingerprint(spec, map[string]interface{}{"file": "/data/b.txt"})
	assert.NotEqual(t, fp1, fp3)

	// Different command, different fingerprint.
	changed := spec
	changed.Command = "wc -c @{in.file} > @{out.count}"
	assert.NotEqual(t, fp1, Fingerprint(changed, in))

	// Resource hints do not contribute.
	hinted := spec
	hinted.Resources = api.ResourceHint{CPUs: 8}
	assert.Equal(t, fp1, Fingerprint(hinted, in))
}

func TestNamespaceLifecycle(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)

	fp := Fingerprint(testSpec(), map[string]interface{}{"file": "a.txt"})

	// Nothing committed yet.
	_, hit := ws.Lookup(fp)
	assert.False(t, hit)

	ns, err := ws.Begin(fp)
	require.NoError(t, err)

	// Staging dir is not visible to Lookup even with outputs present.
	require.NoError(t, os.WriteFile(filepath.Join(ns.Dir(), "lines.count"), []byte("3\n"), 0644))
	_, hit = ws.Lookup(fp)
	assert.False(t, hit)

	require.NoError(t, ns.VerifyOutputs([]string{"lines.count"}))

	final, err := ns.Commit()
	require.NoError(t, err)
	dir, hit := ws.Lookup(fp)
	require.True(t, hit)
	assert.Equal(t, final, dir)
	assert.FileExists(t, filepath.Join(dir, "lines.count"))
	assert.Equal(t, filepath.Join(final, "lines.count"), ns.Artifact("lines.count"))
	assert.FileExists(t, ns.Artifact("lines.count"))
}

func TestVerifyOutputsMissing(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	ns, err := ws.Begin(Fingerprint(testSpec(), nil))
	require.NoError(t, err)

	err = ns.VerifyOutputs([]string{"lines.count"})
	require.Error(t, err)
}

func TestLinkStagesInput(t *testing.T) {
	src := filepath.Join(t.TempDir(), "reads.fastq")
	require.NoError(t, os.WriteFile(src, []byte("@r1\nACGT\n"), 0644))

	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	ns, err := ws.Begin(Fingerprint(testSpec(), nil))
	require.NoError(t, err)

	name, err := ns.Link(src)
	require.NoError(t, err)
	assert.Equal(t, "reads.fastq", name)

	linked, err := os.ReadFile(filepath.Join(ns.Dir(), name))
	require.NoError(t, err)
	assert.Equal(t, "@r1\nACGT\n", string(linked))

	// Linking the same source twice is a no-op.
	again, err := ns.Link(src)
	require.NoError(t, err)
	assert.Equal(t, name, again)
}

func TestLinkRejectsNameCollision(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	srcA := filepath.Join(dirA, "reads.fastq")
	srcB := filepath.Join(dirB, "reads.fastq")
	require.NoError(t, os.WriteFile(srcA, []byte("sample A\n"), 0644))
	require.NoError(t, os.WriteFile(srcB, []byte("sample B\n"), 0644))

	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	ns, err := ws.Begin(Fingerprint(testSpec(), nil))
	require.NoError(t, err)

	name, err := ns.Link(srcA)
	require.NoError(t, err)
	assert.Equal(t, "reads.fastq", name)

	// A different file with the same base name must not silently resolve
	// to the first file's content.
	_, err = ns.Link(srcB)
	require.Error(t, err)
	assert.True(t, api.IsConfiguration(err))

	linked, err := os.ReadFile(filepath.Join(ns.Dir(), "reads.fastq"))
	require.NoError(t, err)
	assert.Equal(t, "sample A\n", string(linked))
}

func TestDiscard(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	ns, err := ws.Begin(Fingerprint(testSpec(), nil))
	require.NoError(t, err)

	require.NoError(t, ns.Discard())
	_, err = os.Stat(ns.Dir())
	assert.True(t, os.IsNotExist(err))
}

func TestRunStore(t *testing.T) {
	s := NewRunStore()
	specs := []api.TaskSpec{
		{Name: "trim", Command: "x"},
		{Name: "search", Command: "y", Tag: "homology"},
	}
	require.NoError(t, s.CreateRun("r1", "demo", specs))

	require.NoError(t, s.CreateInstance("r1", "trim", "1", "fp1"))
	require.NoError(t, s.SetInstanceStatus("r1", "trim", "1", api.StatusRunning, TimeOption{}))
	require.NoError(t, s.SetInstanceResult("r1", "trim", "1", 0, 1, "/work/fp1", ""))
	require.NoError(t, s.SetTaskStatus("r1", "trim", api.StatusRunning, TimeOption{}))

	statuses, err := s.GetTaskStatuses("r1")
	require.NoError(t, err)
	assert.Equal(t, api.StatusRunning, statuses["trim"])
	assert.Equal(t, api.StatusCreated, statuses["search"])

	state, err := s.RunState("r1")
	require.NoError(t, err)
	require.Len(t, state.Tasks, 2)
	assert.Equal(t, "trim", state.Tasks[0].Name)
	require.Len(t, state.Tasks[0].Instances, 1)
	assert.Equal(t, "/work/fp1", state.Tasks[0].Instances[0].Workdir)

	// Unknown entities
	require.Error(t, s.SetTaskStatus("r1", "ghost", api.StatusRunning, TimeOption{}))
	_, err = s.RunState("missing")
	require.Error(t, err)
}
