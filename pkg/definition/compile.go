package definition

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/pkg/errors"

	"nereus/pkg/api"
	"nereus/pkg/channel"
	"nereus/pkg/graph"
	"nereus/pkg/util/maps"
	"nereus/pkg/util/template"
)

// Compile turns the document into an execution graph. Overrides are CLI
// --param values merged over the document defaults; the effective params are
// returned for command substitution and reporting.
func Compile(doc *Document, overrides map[string]interface{}) (*graph.Graph, map[string]interface{}, error) {
	params := maps.Merge(maps.Merge(nil, doc.Params), overrides)

	var active []TaskDef
	for _, t := range doc.Tasks {
		on, err := t.When.holds(params)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "cannot evaluate activation of task %s", t.Name)
		}
		if on {
			active = append(active, t)
		}
	}
	if len(active) == 0 {
		return nil, nil, api.Configurationf("no task is active under the given parameters")
	}

	set := channel.NewSet()
	byName := make(map[string]*channel.Channel)
	for _, def := range doc.Channels {
		c, err := makeSource(set, def, params)
		if err != nil {
			return nil, nil, err
		}
		if _, dup := byName[def.Name]; dup {
			return nil, nil, api.Graphf("duplicate channel name %s", def.Name)
		}
		byName[def.Name] = c
	}

	builder := graph.NewBuilder(set)
	tasks := make(map[string]*graph.Task, len(active))
	for _, def := range active {
		t, err := builder.AddTask(taskSpec(def))
		if err != nil {
			return nil, nil, err
		}
		tasks[def.Name] = t
		for _, out := range def.Outputs {
			pipe, _ := t.Out(out.Name)
			byName[def.Name+"."+out.Name] = pipe
		}
	}

	disp := newDispenser(byName, consumerCounts(doc, active))
	for _, def := range doc.Derived {
		c, err := makeDerived(def, disp)
		if err != nil {
			return nil, nil, err
		}
		if _, dup := byName[def.Name]; dup {
			return nil, nil, api.Graphf("duplicate channel name %s", def.Name)
		}
		byName[def.Name] = c
	}

	for _, def := range active {
		t := tasks[def.Name]
		for _, in := range def.Inputs {
			if len(in.Each) > 0 {
				vals, err := resolveValues(in.Each, params)
				if err != nil {
					return nil, nil, errors.Wrapf(err, "cannot resolve each values of %s.%s", def.Name, in.Name)
				}
				t.Each(in.Name, vals)
				continue
			}
			c, err := disp.take(in.From)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "cannot bind %s.%s", def.Name, in.Name)
			}
			t.In(in.Name, c)
		}
	}

	g, err := builder.Build()
	if err != nil {
		return nil, nil, err
	}
	return g, params, nil
}

func taskSpec(def TaskDef) api.TaskSpec {
	spec := api.TaskSpec{
		Name:       def.Name,
		Command:    def.Command,
		Outputs:    def.Outputs,
		Resources:  def.Resources,
		Tag:        def.Tag,
		Container:  def.Container,
		OnFailure:  def.OnFailure,
		MaxRetries: def.MaxRetries,
	}
	for _, in := range def.Inputs {
		spec.Inputs = append(spec.Inputs, api.InputPort{
			Name: in.Name,
			File: in.File,
			Each: len(in.Each) > 0,
		})
	}
	return spec
}

// holds evaluates the activation predicate. A nil predicate always holds.
func (w *WhenDef) holds(params map[string]interface{}) (bool, error) {
	if w == nil {
		return true, nil
	}
	if w.ParamSet != "" {
		v, set := params[w.ParamSet]
		if !set || v == nil || v == "" {
			return false, nil
		}
	}
	if w.FileExists != "" {
		path, err := resolveString(w.FileExists, params)
		if err != nil {
			return false, err
		}
		if _, err := os.Stat(path); err != nil {
			return false, nil
		}
	}
	return true, nil
}

func makeSource(set *channel.Set, def ChannelDef, params map[string]interface{}) (*channel.Channel, error) {
	if def.Name == "" {
		return nil, api.Graphf("channel without a name")
	}
	if def.Value != nil {
		v, err := resolveValue(def.Value, params)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot resolve channel %s", def.Name)
		}
		return set.ValueOf(def.Name, channel.T(v)), nil
	}

	var tuples []channel.Tuple
	switch {
	case len(def.Values) > 0:
		vals, err := resolveValues(def.Values, params)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot resolve channel %s", def.Name)
		}
		tuples = make([]channel.Tuple, len(vals))
		for i, v := range vals {
			tuples[i] = channel.T(v)
		}

	case len(def.Paths) > 0:
		for _, p := range def.Paths {
			resolved, err := resolveString(p, params)
			if err != nil {
				return nil, errors.Wrapf(err, "cannot resolve channel %s", def.Name)
			}
			tuples = append(tuples, channel.T(resolved))
		}

	case def.Glob != "":
		files, err := globFiles(def.Glob, params)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot resolve channel %s", def.Name)
		}
		tuples = make([]channel.Tuple, len(files))
		for i, f := range files {
			tuples[i] = channel.T(f)
		}

	case def.Pair != nil:
		paired, err := pairTuples(*def.Pair, params)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot resolve channel %s", def.Name)
		}
		tuples = paired

	default:
		return nil, api.Graphf("channel %s declares no source", def.Name)
	}

	// Source contents are known at compile time, so an empty required
	// channel aborts here, before anything is scheduled.
	if def.Required && len(tuples) == 0 {
		return nil, api.Configurationf("required channel %s is empty", def.Name)
	}
	return set.QueueOf(def.Name, tuples...), nil
}

func globFiles(pattern string, params map[string]interface{}) ([]string, error) {
	resolved, err := resolveString(pattern, params)
	if err != nil {
		return nil, err
	}
	files, err := filepath.Glob(resolved)
	if err != nil {
		return nil, api.Configurationf("invalid glob pattern %s: %v", resolved, err)
	}
	sort.Strings(files)
	return files, nil
}

// pairTuples groups the files matching the glob by the sample key captured
// from their base name, one (sample, files) tuple per key in first-seen order
// over the lexically sorted matches.
func pairTuples(def PairDef, params map[string]interface{}) ([]channel.Tuple, error) {
	re, err := regexp.Compile(def.By)
	if err != nil {
		return nil, api.Configurationf("invalid pair expression %s: %v", def.By, err)
	}
	if re.NumSubexp() != 1 {
		return nil, api.Configurationf("pair expression %s must have exactly one capture group", def.By)
	}
	files, err := globFiles(def.Glob, params)
	if err != nil {
		return nil, err
	}
	groups := make(map[string][]interface{})
	var order []string
	for _, f := range files {
		m := re.FindStringSubmatch(filepath.Base(f))
		if m == nil {
			continue
		}
		sample := m[1]
		if _, seen := groups[sample]; !seen {
			order = append(order, sample)
		}
		groups[sample] = append(groups[sample], f)
	}
	tuples := make([]channel.Tuple, len(order))
	for i, sample := range order {
		tuples[i] = channel.T(sample, groups[sample])
	}
	return tuples, nil
}

func makeDerived(def DerivedDef, disp *dispenser) (*channel.Channel, error) {
	switch {
	case len(def.Combine) == 2:
		left, err := disp.take(def.Combine[0])
		if err != nil {
			return nil, errors.Wrapf(err, "cannot derive channel %s", def.Name)
		}
		right, err := disp.take(def.Combine[1])
		if err != nil {
			return nil, errors.Wrapf(err, "cannot derive channel %s", def.Name)
		}
		return left.Combine(right), nil

	case def.GroupTuple != nil:
		src, err := disp.take(def.GroupTuple.Of)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot derive channel %s", def.Name)
		}
		return src.GroupTuple(def.GroupTuple.Keys...), nil

	case def.Collect != "":
		src, err := disp.take(def.Collect)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot derive channel %s", def.Name)
		}
		return src.Collect(), nil

	default:
		return nil, api.Graphf("derived channel %s declares no operation", def.Name)
	}
}

func resolveValues(in []interface{}, params map[string]interface{}) ([]interface{}, error) {
	out := make([]interface{}, len(in))
	for i, v := range in {
		resolved, err := resolveValue(v, params)
		if err != nil {
			return nil, err
		}
		out[i] = resolved
	}
	return out, nil
}

func resolveValue(v interface{}, params map[string]interface{}) (interface{}, error) {
	s, isString := v.(string)
	if !isString {
		return v, nil
	}
	return resolveString(s, params)
}

func resolveString(s string, params map[string]interface{}) (string, error) {
	if params == nil {
		params = map[string]interface{}{}
	}
	return template.Resolve(s, template.ResolveWithMap(map[string]interface{}{
		"params": params,
	}))
}
