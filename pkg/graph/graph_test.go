package graph

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nereus/pkg/api"
	"nereus/pkg/channel"
)

func trimSpec() api.TaskSpec {
	return api.TaskSpec{
		Name:    "trim",
		Command: "fastp -i @{in.reads} -o @{out.trimmed}",
		Inputs:  []api.InputPort{{Name: "reads", File: true}},
		Outputs: []api.OutputPort{{Name: "trimmed", Path: "trimmed.fastq"}},
	}
}

func TestBuildWiring(t *testing.T) {
	set := channel.NewSet()
	b := NewBuilder(set)

	reads := set.QueueOf("reads", channel.T("a.fastq"), channel.T("b.fastq"))

	trim, err := b.AddTask(trimSpec())
	require.NoError(t, err)
	trim.In("reads", reads)

	search, err := b.AddTask(api.TaskSpec{
		Name:    "search",
		Command: "diamond blastx -q @{in.query} -o @{out.hits}",
		Inputs:  []api.InputPort{{Name: "query", File: true}},
		Outputs: []api.OutputPort{{Name: "hits", Path: "hits.tsv"}},
	})
	require.NoError(t, err)
	trimmed, ok := trim.Out("trimmed")
	require.True(t, ok)
	search.In("query", trimmed)

	g, err := b.Build()
	require.NoError(t, err)

	assert.Empty(t, g.Dependencies("trim"))
	assert.Equal(t, []string{"trim"}, g.Dependencies("search"))
	assert.Equal(t, []string{"search"}, g.Downstream("trim"))
}

func TestDependencyThroughOperators(t *testing.T) {
	// A dependency must be found even when the consumer reads the producer's
	// output through a chain of channel operators.
	set := channel.NewSet()
	b := NewBuilder(set)

	reads := set.QueueOf("reads", channel.T("a.fastq"))
	trim, err := b.AddTask(trimSpec())
	require.NoError(t, err)
	trim.In("reads", reads)

	trimmed, _ := trim.Out("trimmed")
	renamed := trimmed.Map(func(in channel.Tuple) (channel.Tuple, error) {
		return in, nil
	})

	merge, err := b.AddTask(api.TaskSpec{
		Name:    "merge",
		Command: "cat #{in.parts} > @{out.merged}",
		Inputs:  []api.InputPort{{Name: "parts", File: true}},
		Outputs: []api.OutputPort{{Name: "merged", Path: "merged.txt"}},
	})
	require.NoError(t, err)
	merge.In("parts", renamed.Collect())

	g, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, []string{"trim"}, g.Dependencies("merge"))
}

func TestBuildRejectsUnboundPort(t *testing.T) {
	set := channel.NewSet()
	b := NewBuilder(set)
	_, err := b.AddTask(trimSpec())
	require.NoError(t, err)

	_, err = b.Build()
	require.Error(t, err)
	assert.True(t, api.IsGraph(err))
}

func TestBuildRejectsUndeclaredBinding(t *testing.T) {
	set := channel.NewSet()
	b := NewBuilder(set)
	reads := set.QueueOf("reads", channel.T("a.fastq"))

	trim, err := b.AddTask(trimSpec())
	require.NoError(t, err)
	trim.In("reads", reads).In("ghost", reads)

	_, err = b.Build()
	require.Error(t, err)
	assert.True(t, api.IsGraph(err))
}

func TestBuildRejectsCycle(t *testing.T) {
	set := channel.NewSet()
	b := NewBuilder(set)

	trim, err := b.AddTask(trimSpec())
	require.NoError(t, err)
	// Wire the task's own output back into its input.
	trimmed, _ := trim.Out("trimmed")
	trim.In("reads", trimmed)

	_, err = b.Build()
	require.Error(t, err)
	assert.True(t, api.IsGraph(err))
}

func TestBuildRejectsDuplicateTask(t *testing.T) {
	set := channel.NewSet()
	b := NewBuilder(set)
	_, err := b.AddTask(trimSpec())
	require.NoError(t, err)
	_, err = b.AddTask(trimSpec())
	require.Error(t, err)
	assert.True(t, api.IsGraph(err))
}

func TestEachBinding(t *testing.T) {
	set := channel.NewSet()
	b := NewBuilder(set)
	reads := set.QueueOf("reads", channel.T("a.fastq"))

	spec := trimSpec()
	spec.Inputs = append(spec.Inputs, api.InputPort{Name: "mode", Each: true})
	trim, err := b.AddTask(spec)
	require.NoError(t, err)
	trim.In("reads", reads)

	// Unbound each port fails the build.
	_, err = b.Build()
	require.Error(t, err)

	trim.Each("mode", []interface{}{"dna", "protein"})
	g, err := b.Build()
	require.NoError(t, err)
	task, ok := g.Task("trim")
	require.True(t, ok)
	assert.Len(t, task.EachValues()["mode"], 2)
}

func TestDescribe(t *testing.T) {
	set := channel.NewSet()
	b := NewBuilder(set)
	reads := set.QueueOf("reads", channel.T("a.fastq"))
	trim, err := b.AddTask(trimSpec())
	require.NoError(t, err)
	trim.In("reads", reads)

	g, err := b.Build()
	require.NoError(t, err)

	var buf bytes.Buffer
	g.Describe(&buf)
	assert.Contains(t, buf.String(), "trim")
	assert.Contains(t, buf.String(), "reads")
}
