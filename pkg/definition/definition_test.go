package definition_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nereus/pkg/api"
	"nereus/pkg/definition"
	"nereus/pkg/util/context"
)

func TestLoad(t *testing.T) {
	t.Run("valid document", func(t *testing.T) {
		doc, err := definition.Load(strings.NewReader(`{
			"name": "demo",
			"params": {"kmer": 31},
			"channels": [{"name": "reads", "values": ["a", "b"]}],
			"tasks": [{
				"name": "trim",
				"command": "fastp -i @{in.reads}",
				"inputs": [{"name": "reads", "from": "reads"}]
			}]
		}`))
		require.NoError(t, err)
		assert.Equal(t, "demo", doc.Name)
		assert.Len(t, doc.Tasks, 1)
	})

	t.Run("missing name", func(t *testing.T) {
		_, err := definition.Load(strings.NewReader(`{"tasks": [{"name": "t", "command": "true"}]}`))
		require.Error(t, err)
		assert.True(t, api.IsConfiguration(err))
	})

	t.Run("unknown field", func(t *testing.T) {
		_, err := definition.Load(strings.NewReader(`{"name": "x", "tasks": [], "bogus": 1}`))
		require.Error(t, err)
		assert.True(t, api.IsConfiguration(err))
	})
}

func TestCompileWiring(t *testing.T) {
	doc, err := definition.Load(strings.NewReader(`{
		"name": "demo",
		"channels": [{"name": "reads", "values": ["a.fq", "b.fq"]}],
		"derived": [{"name": "all_counts", "collect": "count.res"}],
		"tasks": [
			{
				"name": "count",
				"command": "wc -l < @{in.reads} > @{out.res}",
				"inputs": [{"name": "reads", "from": "reads", "file": true}],
				"outputs": [{"name": "res", "path": "@{in.reads}.count"}]
			},
			{
				"name": "merge",
				"command": "cat #{in.counts} > @{out.merged}",
				"inputs": [{"name": "counts", "from": "all_counts", "file": true}],
				"outputs": [{"name": "merged", "path": "merged.txt"}]
			}
		]
	}`))
	require.NoError(t, err)

	g, params, err := definition.Compile(doc, map[string]interface{}{"extra": "x"})
	require.NoError(t, err)
	assert.Equal(t, "x", params["extra"])
	require.Len(t, g.Tasks(), 2)
	assert.Equal(t, []string{"count"}, g.Dependencies("merge"))
}

func TestCompileConditionalActivation(t *testing.T) {
	raw := `{
		"name": "demo",
		"channels": [{"name": "reads", "values": ["a.fq"]}],
		"tasks": [
			{
				"name": "base",
				"command": "true",
				"inputs": [{"name": "reads", "from": "reads"}],
				"outputs": [{"name": "res", "path": "res.txt"}]
			},
			{
				"name": "optional",
				"command": "true",
				"when": {"paramSet": "deep"},
				"inputs": [{"name": "res", "from": "base.res"}]
			}
		]
	}`

	t.Run("excluded without the parameter", func(t *testing.T) {
		doc, err := definition.Load(strings.NewReader(raw))
		require.NoError(t, err)
		g, _, err := definition.Compile(doc, nil)
		require.NoError(t, err)
		require.Len(t, g.Tasks(), 1)
		assert.Equal(t, "base", g.Tasks()[0].Spec.Name)
	})

	t.Run("included with the parameter", func(t *testing.T) {
		doc, err := definition.Load(strings.NewReader(raw))
		require.NoError(t, err)
		g, _, err := definition.Compile(doc, map[string]interface{}{"deep": true})
		require.NoError(t, err)
		assert.Len(t, g.Tasks(), 2)
	})
}

func TestCompileDanglingReference(t *testing.T) {
	doc, err := definition.Load(strings.NewReader(`{
		"name": "demo",
		"tasks": [{
			"name": "consume",
			"command": "cat @{in.res}",
			"inputs": [{"name": "res", "from": "excluded.res"}]
		}]
	}`))
	require.NoError(t, err)
	_, _, err = definition.Compile(doc, nil)
	require.Error(t, err)
	assert.True(t, api.IsGraph(err))
	assert.Contains(t, err.Error(), "excluded.res")
}

func TestCompilePairSource(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"s1_R1.fq", "s1_R2.fq", "s2_R1.fq"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}

	doc, err := definition.Load(strings.NewReader(`{
		"name": "demo",
		"params": {"data": ""},
		"channels": [{
			"name": "pairs",
			"pair": {"glob": "@{params.data}/*.fq", "by": "^(.+)_R[12]\\.fq$"}
		}],
		"tasks": [{
			"name": "align",
			"command": "true",
			"inputs": [{"name": "pairs", "from": "pairs"}]
		}]
	}`))
	require.NoError(t, err)

	g, _, err := definition.Compile(doc, map[string]interface{}{"data": dir})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g.Set().Start(ctx)

	task, ok := g.Task("align")
	require.True(t, ok)
	src := task.Inputs()["pairs"]

	first, ok := src.Receive()
	require.True(t, ok)
	assert.Equal(t, "s1", first[0])
	assert.Len(t, first[1], 2)

	second, ok := src.Receive()
	require.True(t, ok)
	assert.Equal(t, "s2", second[0])
	assert.Len(t, second[1], 1)

	_, ok = src.Receive()
	assert.False(t, ok)
}

func TestCompileEmptyRequiredSource(t *testing.T) {
	dir := t.TempDir()

	doc, err := definition.Load(strings.NewReader(`{
		"name": "demo",
		"params": {"data": ""},
		"channels": [{"name": "reads", "glob": "@{params.data}/*.fq", "required": true}],
		"tasks": [{
			"name": "count",
			"command": "wc -l @{in.reads}",
			"inputs": [{"name": "reads", "from": "reads", "file": true}]
		}]
	}`))
	require.NoError(t, err)

	// No matching files: compilation fails before any scheduling.
	_, _, err = definition.Compile(doc, map[string]interface{}{"data": dir})
	require.Error(t, err)
	assert.True(t, api.IsConfiguration(err))
	assert.Contains(t, err.Error(), "reads")
}

func TestCompileSplitsSharedChannel(t *testing.T) {
	doc, err := definition.Load(strings.NewReader(`{
		"name": "demo",
		"channels": [{"name": "reads", "values": ["a", "b"]}],
		"tasks": [
			{"name": "left", "command": "true", "inputs": [{"name": "reads", "from": "reads"}]},
			{"name": "right", "command": "true", "inputs": [{"name": "reads", "from": "reads"}]}
		]
	}`))
	require.NoError(t, err)

	g, _, err := definition.Compile(doc, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g.Set().Start(ctx)

	for _, name := range []string{"left", "right"} {
		task, ok := g.Task(name)
		require.True(t, ok)
		c := task.Inputs()["reads"]
		var got []interface{}
		for {
			tp, ok := c.Receive()
			if !ok {
				break
			}
			got = append(got, tp[0])
		}
		assert.Equal(t, []interface{}{"a", "b"}, got, "task %s must see the full stream", name)
	}
}

func TestCompileEachBinding(t *testing.T) {
	doc, err := definition.Load(strings.NewReader(`{
		"name": "demo",
		"channels": [{"name": "reads", "values": ["a.fq"]}],
		"tasks": [{
			"name": "sweep",
			"command": "true",
			"inputs": [
				{"name": "reads", "from": "reads"},
				{"name": "kmer", "each": [21, 31, 41]}
			]
		}]
	}`))
	require.NoError(t, err)

	g, _, err := definition.Compile(doc, nil)
	require.NoError(t, err)
	task, ok := g.Task("sweep")
	require.True(t, ok)
	assert.Len(t, task.EachValues()["kmer"], 3)
}
