// Package report aggregates a finished run into a summary, renders it for
// humans and writes the machine-readable trace file.
package report

import (
	"fmt"
	"strings"

	"nereus/pkg/api"
)

// Summary is the aggregated outcome of one run.
type Summary struct {
	Name   string                 `json:"name"`
	RunID  string                 `json:"runId"`
	Status api.Status             `json:"status"`
	Params map[string]interface{} `json:"params,omitempty"`

	Instances int `json:"instances"`
	Succeeded int `json:"succeeded"`
	Cached    int `json:"cached"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`

	// FailedTasks names the branches that failed, directly or by propagation.
	FailedTasks []string `json:"failedTasks,omitempty"`
}

// Summarize aggregates the run state and the run parameters.
func Summarize(state api.RunState, params map[string]interface{}) Summary {
	s := Summary{
		Name:   state.Name,
		RunID:  state.RunID,
		Status: state.Status,
		Params: params,
	}
	for _, t := range state.Tasks {
		if t.Status == api.StatusFailed {
			s.FailedTasks = append(s.FailedTasks, t.Name)
		}
		for _, inst := range t.Instances {
			s.Instances++
			switch inst.Status {
			case api.StatusCompleted:
				s.Succeeded++
			case api.StatusCached:
				s.Succeeded++
				s.Cached++
			case api.StatusFailed:
				s.Failed++
			case api.StatusCancelled:
				s.Cancelled++
			}
		}
	}
	return s
}

// String renders the one-line outcome, e.g. "2 succeeded, 0 failed".
func (s Summary) String() string {
	line := fmt.Sprintf("%d succeeded, %d failed", s.Succeeded, s.Failed)
	if s.Cached > 0 {
		line += fmt.Sprintf(" (%d cached)", s.Cached)
	}
	if s.Cancelled > 0 {
		line += fmt.Sprintf(", %d cancelled", s.Cancelled)
	}
	if len(s.FailedTasks) > 0 {
		line += ", failed branches: " + strings.Join(s.FailedTasks, ", ")
	}
	return line
}
