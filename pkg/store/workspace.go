package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"nereus/pkg/api"
)

// exitFile marks a committed namespace; it holds the exit code of the
// instance that produced it. Only namespaces carrying a zero exit file are
// ever reused by a resumed run.
const exitFile = ".exitcode"

// Workspace is the filesystem area holding one namespace per task instance.
// Namespaces are keyed by fingerprint so an unchanged TaskSpec plus input set
// resolves to the same directory across runs.
type Workspace struct {
	root string
}

// NewWorkspace creates (if needed) and returns the workspace rooted at dir.
func NewWorkspace(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot resolve workspace root %s", dir)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, errors.Wrapf(err, "cannot create workspace root %s", abs)
	}
	return &Workspace{root: abs}, nil
}

// Root returns the workspace root directory.
func (w *Workspace) Root() string {
	return w.root
}

// Fingerprint computes the canonical identity of a task instance: a hash of
// the TaskSpec identity and the resolved input values. Resource hints and
// tags do not contribute, changing them never invalidates cached work.
func Fingerprint(spec api.TaskSpec, inputs map[string]interface{}) string {
	h := sha256.New()
	fmt.Fprintf(h, "task\x1f%s\x1f%s\x1f%s\x1f", spec.Name, spec.Command, spec.Container)
	for _, out := range spec.Outputs {
		fmt.Fprintf(h, "out\x1f%s\x1f%s\x1f", out.Name, out.Path)
	}
	keys := make([]string, 0, len(inputs))
	for k := range inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "in\x1f%s\x1f%v\x1f", k, inputs[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// dir returns the canonical namespace path for a fingerprint.
func (w *Workspace) dir(fp string) string {
	return filepath.Join(w.root, fp[:2], fp)
}

// Lookup returns the committed namespace for the fingerprint, if a previous
// instance succeeded there. Namespaces without a zero exit marker (partial
// writes, failures) are never visible as complete.
func (w *Workspace) Lookup(fp string) (string, bool) {
	dir := w.dir(fp)
	data, err := os.ReadFile(filepath.Join(dir, exitFile))
	if err != nil {
		return "", false
	}
	if string(data) != "0" {
		return "", false
	}
	return dir, true
}

// Begin opens a fresh namespace for an instance attempt. The instance runs in
// a staging directory invisible to Lookup until Commit renames it into place.
func (w *Workspace) Begin(fp string) (*Namespace, error) {
	final := w.dir(fp)
	parent := filepath.Dir(final)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return nil, errors.Wrapf(err, "cannot create namespace parent %s", parent)
	}
	staging := filepath.Join(parent, fmt.Sprintf("%s.staging-%s", fp[:8], uuid.New().String()[:8]))
	if err := os.Mkdir(staging, 0755); err != nil {
		return nil, errors.Wrapf(err, "cannot create staging namespace %s", staging)
	}
	return &Namespace{
		dir:   staging,
		final: final,
	}, nil
}

// Namespace is the working directory owned by exactly one task instance
// attempt. No other instance may write into it, by construction.
type Namespace struct {
	dir   string
	final string
}

// Dir returns the directory commands execute in.
func (ns *Namespace) Dir() string {
	return ns.dir
}

// Link stages an input file into the namespace as a symlink and returns the
// workdir-relative name the command sees.
func (ns *Namespace) Link(src string) (string, error) {
	abs, err := filepath.Abs(src)
	if err != nil {
		return "", errors.Wrapf(err, "cannot resolve input %s", src)
	}
	name := filepath.Base(abs)
	dst := filepath.Join(ns.dir, name)
	if _, err := os.Lstat(dst); err == nil {
		existing, err := os.Readlink(dst)
		if err == nil && existing == abs {
			// Already staged (e.g. the same file on two ports).
			return name, nil
		}
		return "", api.Configurationf("input %s collides with staged input %s, both named %s", src, existing, name)
	}
	if err := os.Symlink(abs, dst); err != nil {
		return "", errors.Wrapf(err, "cannot stage input %s", src)
	}
	return name, nil
}

// VerifyOutputs checks that every declared output file exists in the
// namespace. A missing output is a failure even when the command exited zero.
func (ns *Namespace) VerifyOutputs(paths []string) error {
	for _, p := range paths {
		if _, err := os.Stat(filepath.Join(ns.dir, p)); err != nil {
			return errors.Errorf("declared output %s was not produced", p)
		}
	}
	return nil
}

// Artifact returns the absolute path of a workdir-relative output,
// valid after Commit.
func (ns *Namespace) Artifact(rel string) string {
	return filepath.Join(ns.final, rel)
}

// Commit marks the attempt successful and atomically publishes the namespace
// at its canonical path. A leftover namespace from a failed prior run is
// replaced.
func (ns *Namespace) Commit() (string, error) {
	if err := os.WriteFile(filepath.Join(ns.dir, exitFile), []byte("0"), 0644); err != nil {
		return "", errors.Wrap(err, "cannot write exit marker")
	}
	if _, err := os.Lstat(ns.final); err == nil {
		if err := os.RemoveAll(ns.final); err != nil {
			return "", errors.Wrapf(err, "cannot replace stale namespace %s", ns.final)
		}
	}
	if err := os.Rename(ns.dir, ns.final); err != nil {
		return "", errors.Wrapf(err, "cannot commit namespace %s", ns.final)
	}
	ns.dir = ns.final
	return ns.final, nil
}

// Discard removes the staging directory of a cancelled attempt.
// Failed attempts keep their directory for inspection instead.
func (ns *Namespace) Discard() error {
	if ns.dir == ns.final {
		return nil
	}
	return os.RemoveAll(ns.dir)
}
