package report

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"nereus/pkg/api"
)

// TraceFile is the name of the machine-readable run trace.
const TraceFile = "trace.json"

type trace struct {
	Summary Summary      `json:"summary"`
	Run     api.RunState `json:"run"`
}

// WriteTrace writes the trace file for a finished run into dir.
func WriteTrace(dir string, state api.RunState, params map[string]interface{}) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrapf(err, "cannot create run dir %s", dir)
	}
	data, err := json.MarshalIndent(trace{
		Summary: Summarize(state, params),
		Run:     state,
	}, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "cannot marshal trace")
	}
	path := filepath.Join(dir, TraceFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", errors.Wrapf(err, "cannot write trace %s", path)
	}
	return path, nil
}
