package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpressionString(t *testing.T) {
	t.Run("single", func(t *testing.T) {
		e := Expression{
			Text: "in.reads",
		}
		assert.Equal(t, "@{in.reads}", e.String())
	})

	t.Run("batch", func(t *testing.T) {
		e := Expression{
			Text:    "in.counts",
			IsBatch: true,
		}
		assert.Equal(t, "#{in.counts}", e.String())
	})
}

func TestFindAll(t *testing.T) {
	in := "diamond blastx -q @{in.reads} -d @{params.db} -o @{out.hits} --extra #{in.refs}@{}"
	expressions := FindAll(in)
	assert.Len(t, expressions, 4)
	assert.Contains(t, expressions, Expression{Text: "in.reads"})
	assert.Contains(t, expressions, Expression{Text: "params.db"})
	assert.Contains(t, expressions, Expression{Text: "out.hits"})
	assert.Contains(t, expressions, Expression{Text: "in.refs", IsBatch: true})
}

func TestResolve(t *testing.T) {
	vars := map[string]interface{}{
		"in": map[string]interface{}{
			"reads":  "sample1.fastq",
			"counts": []interface{}{"a.count", "b.count"},
		},
		"params": map[string]interface{}{
			"kmer": 31,
		},
		"out": map[string]interface{}{
			"merged": "merged.txt",
		},
	}

	t.Run("scalars", func(t *testing.T) {
		out, err := Resolve("fastp -k @{params.kmer} @{in.reads} > @{out.merged}", ResolveWithMap(vars))
		require.NoError(t, err)
		assert.Equal(t, "fastp -k 31 sample1.fastq > merged.txt", out)
	})

	t.Run("batch join", func(t *testing.T) {
		out, err := Resolve("cat #{in.counts} > @{out.merged}", ResolveWithMap(vars))
		require.NoError(t, err)
		assert.Equal(t, "cat a.count b.count > merged.txt", out)
	})

	t.Run("no expressions", func(t *testing.T) {
		out, err := Resolve("echo done", ResolveWithMap(vars))
		require.NoError(t, err)
		assert.Equal(t, "echo done", out)
	})

	t.Run("unresolved", func(t *testing.T) {
		_, err := Resolve("wc -l @{in.missing}", ResolveWithMap(vars))
		require.Error(t, err)
	})

	t.Run("batch over scalar", func(t *testing.T) {
		_, err := Resolve("cat #{in.reads}", ResolveWithMap(vars))
		require.Error(t, err)
	})
}
