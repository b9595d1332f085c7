package report_test

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nereus/pkg/api"
	"nereus/pkg/report"
)

func sampleState() api.RunState {
	start := time.Date(2023, 4, 2, 10, 0, 0, 0, time.UTC)
	end := start.Add(42 * time.Second)
	return api.RunState{
		Name:      "rnaseq",
		RunID:     "0f3a2b1c",
		Status:    api.StatusCompleted,
		StartTime: &start,
		EndTime:   &end,
		Tasks: []api.TaskState{
			{
				Name:      "trim",
				Status:    api.StatusCompleted,
				StartTime: &start,
				EndTime:   &end,
				Instances: []api.InstanceState{
					{ID: "i1", Status: api.StatusCompleted},
					{ID: "i2", Status: api.StatusCached},
				},
			},
			{
				Name:      "align",
				Status:    api.StatusFailed,
				StartTime: &start,
				EndTime:   &end,
				Instances: []api.InstanceState{
					{ID: "i3", Status: api.StatusFailed, ExitCode: 1},
				},
			},
		},
	}
}

func TestSummarize(t *testing.T) {
	s := report.Summarize(sampleState(), map[string]interface{}{"kmer": 31})
	assert.Equal(t, 3, s.Instances)
	assert.Equal(t, 2, s.Succeeded)
	assert.Equal(t, 1, s.Cached)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, []string{"align"}, s.FailedTasks)
	assert.Contains(t, s.String(), "2 succeeded, 1 failed")
	assert.Contains(t, s.String(), "align")
}

func TestPrint(t *testing.T) {
	var buf bytes.Buffer
	report.Print(&buf, sampleState())
	out := buf.String()
	assert.Contains(t, out, "rnaseq")
	assert.Contains(t, out, "trim")
	assert.Contains(t, out, "align")
	assert.Contains(t, out, "2/2")
	assert.Contains(t, out, "42s")
}

func TestWriteTrace(t *testing.T) {
	dir := t.TempDir()
	path, err := report.WriteTrace(dir, sampleState(), nil)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded struct {
		Summary report.Summary `json:"summary"`
		Run     api.RunState   `json:"run"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "rnaseq", decoded.Run.Name)
	assert.Equal(t, 1, decoded.Summary.Failed)
	assert.Len(t, decoded.Run.Tasks, 2)
}
