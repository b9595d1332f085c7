package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFinished(t *testing.T) {
	finished := []Status{StatusCompleted, StatusCached, StatusFailed, StatusCancelled}
	for _, s := range finished {
		assert.True(t, s.Finished(), "status %s", s)
	}
	for _, s := range []Status{StatusCreated, StatusQueued, StatusRunning} {
		assert.False(t, s.Finished(), "status %s", s)
	}
}

func TestStatusSucceeded(t *testing.T) {
	assert.True(t, StatusCompleted.Succeeded())
	assert.True(t, StatusCached.Succeeded())
	assert.False(t, StatusFailed.Succeeded())
	assert.False(t, StatusRunning.Succeeded())
}

func TestTaskSpecValidate(t *testing.T) {
	valid := TaskSpec{
		Name:    "trim",
		Command: "trimmomatic @{in.reads} @{out.trimmed}",
		Inputs:  []InputPort{{Name: "reads", File: true}},
		Outputs: []OutputPort{{Name: "trimmed", Path: "@{in.reads}.trimmed"}},
	}
	require.NoError(t, valid.Validate())

	t.Run("missing name", func(t *testing.T) {
		s := valid
		s.Name = ""
		err := s.Validate()
		require.Error(t, err)
		assert.True(t, IsConfiguration(err))
	})

	t.Run("missing command", func(t *testing.T) {
		s := valid
		s.Command = ""
		require.Error(t, s.Validate())
	})

	t.Run("duplicate port", func(t *testing.T) {
		s := valid
		s.Outputs = []OutputPort{{Name: "reads", Path: "x"}}
		require.Error(t, s.Validate())
	})

	t.Run("unknown policy", func(t *testing.T) {
		s := valid
		s.OnFailure = "panic"
		require.Error(t, s.Validate())
	})

	t.Run("retry without attempts", func(t *testing.T) {
		s := valid
		s.OnFailure = PolicyRetry
		require.Error(t, s.Validate())
		s.MaxRetries = 3
		require.NoError(t, s.Validate())
	})

	t.Run("negative resources", func(t *testing.T) {
		s := valid
		s.Resources.CPUs = -1
		require.Error(t, s.Validate())
	})
}

func TestPolicyDefault(t *testing.T) {
	assert.Equal(t, PolicyTerminate, TaskSpec{}.Policy())
	assert.Equal(t, PolicyIgnore, TaskSpec{OnFailure: PolicyIgnore}.Policy())
}

func TestErrorPredicates(t *testing.T) {
	assert.True(t, IsGraph(Graphf("cycle detected through task %s", "a")))
	assert.False(t, IsGraph(Configurationf("missing param")))
	assert.True(t, IsTaskFailure(TaskFailure{Task: "t", Instance: "i", Reason: "exit 1"}))
}
