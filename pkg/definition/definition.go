// Package definition reads JSON pipeline documents and compiles them into
// execution graphs: params with defaults, channel sources, derived channels
// and task specifications with their port bindings.
package definition

import (
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"

	"nereus/pkg/api"
)

// Document is a parsed pipeline definition.
type Document struct {
	Name string `json:"name"`

	// Params are the pipeline parameters with their default values.
	// CLI --param overrides are merged on top before compilation.
	Params map[string]interface{} `json:"params,omitempty"`

	// Channels declares the source channels.
	Channels []ChannelDef `json:"channels,omitempty"`

	// Derived declares channels computed from other channels.
	Derived []DerivedDef `json:"derived,omitempty"`

	Tasks []TaskDef `json:"tasks"`
}

// ChannelDef declares one source channel. Exactly one of Values, Paths,
// Glob, Pair or Value must be set.
type ChannelDef struct {
	Name string `json:"name"`

	// Values pre-loads a queue channel with literal values; strings are
	// template-resolved against the params.
	Values []interface{} `json:"values,omitempty"`

	// Paths pre-loads a queue channel with file paths.
	Paths []string `json:"paths,omitempty"`

	// Glob pre-loads a queue channel with the files matching the pattern,
	// one tuple per file, in lexical order.
	Glob string `json:"glob,omitempty"`

	// Pair groups the files matching a pattern by a sample key extracted
	// from the filename, emitting one (sample, files) tuple per key.
	Pair *PairDef `json:"pair,omitempty"`

	// Value declares a single-tuple value channel, replayable by every
	// consumer.
	Value interface{} `json:"value,omitempty"`

	// Required makes an empty source a configuration error: compiling
	// fails before anything is scheduled.
	Required bool `json:"required,omitempty"`
}

// PairDef is a glob source grouped by a sample key.
type PairDef struct {
	Glob string `json:"glob"`

	// By is a regular expression with one capture group applied to the file
	// base name; the capture is the sample key.
	By string `json:"by"`
}

// DerivedDef declares a channel computed from existing ones. Exactly one of
// Combine, GroupTuple or Collect must be set. Channel references are source
// or derived channel names, or task output pipes as "<task>.<port>".
type DerivedDef struct {
	Name string `json:"name"`

	// Combine is the cross product of two channels, [left, right].
	Combine []string `json:"combine,omitempty"`

	// GroupTuple groups the tuples of a channel by key positions.
	GroupTuple *GroupDef `json:"groupTuple,omitempty"`

	// Collect gathers every tuple of a channel into one sequence.
	Collect string `json:"collect,omitempty"`
}

// GroupDef configures a groupTuple derivation.
type GroupDef struct {
	Of   string `json:"of"`
	Keys []int  `json:"keys"`
}

// TaskDef declares one task and its bindings.
type TaskDef struct {
	Name    string `json:"name"`
	Command string `json:"command"`

	// When excludes the task before the graph is built unless its
	// predicates hold. An excluded task contributes no nodes.
	When *WhenDef `json:"when,omitempty"`

	Inputs  []InputDef       `json:"inputs,omitempty"`
	Outputs []api.OutputPort `json:"outputs,omitempty"`

	Resources  api.ResourceHint  `json:"resources,omitempty"`
	Tag        string            `json:"tag,omitempty"`
	Container  string            `json:"container,omitempty"`
	OnFailure  api.FailurePolicy `json:"onFailure,omitempty"`
	MaxRetries int               `json:"maxRetries,omitempty"`
}

// WhenDef is a presence predicate deciding subgraph activation.
// When both fields are set, both must hold.
type WhenDef struct {
	// ParamSet holds when the named parameter exists and is not empty.
	ParamSet string `json:"paramSet,omitempty"`

	// FileExists holds when the path (template-resolved against params)
	// exists.
	FileExists string `json:"fileExists,omitempty"`
}

// InputDef declares one input port and its binding.
type InputDef struct {
	Name string `json:"name"`
	File bool   `json:"file,omitempty"`

	// From binds the port to a channel reference.
	From string `json:"from,omitempty"`

	// Each binds the port to a finite value set, fanning instances out.
	Each []interface{} `json:"each,omitempty"`
}

// LoadFile reads and parses a pipeline document.
func LoadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, api.Configurationf("cannot open pipeline definition %s: %v", path, err)
	}
	defer f.Close()
	doc, err := Load(f)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot parse pipeline definition %s", path)
	}
	return doc, nil
}

// Load parses a pipeline document from a reader.
func Load(r io.Reader) (*Document, error) {
	var doc Document
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, api.Configurationf("invalid pipeline definition: %v", err)
	}
	if doc.Name == "" {
		return nil, api.Configurationf("pipeline definition has no name")
	}
	if len(doc.Tasks) == 0 {
		return nil, api.Configurationf("pipeline definition has no tasks")
	}
	return &doc, nil
}
