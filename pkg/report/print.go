package report

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"sort"
	"text/tabwriter"
	"time"

	"nereus/pkg/api"
)

const (
	progressBarWidth       = 20
	progressBarChar        = "■"
	progressBarPlaceholder = "·"
)

var statusIcons = map[api.Status]string{
	api.StatusCreated:   "◷",
	api.StatusQueued:    "◷",
	api.StatusRunning:   "●",
	api.StatusCancelled: "ǁ",
	api.StatusCompleted: "✔",
	api.StatusCached:    "✔",
	api.StatusFailed:    "✖",
}

// Print writes a human-readable view of the run state: a header, then one
// line per task with duration and instance progression.
func Print(w io.Writer, state api.RunState) {
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "Name:\t%s\n", state.Name)
	fmt.Fprintf(tw, "RunID:\t%s\n", state.RunID)
	fmt.Fprintf(tw, "Status:\t%s\n", state.Status)
	fmt.Fprintf(tw, "Created:\t%s\n", date(state.CreateTime))
	fmt.Fprintf(tw, "Started:\t%s\n", date(state.StartTime))
	fmt.Fprintf(tw, "Finished:\t%s\n", date(state.EndTime))
	fmt.Fprintf(tw, "Duration:\t%s\n", duration(state.StartTime, state.EndTime))
	tw.Flush()
	fmt.Fprintln(w)

	tw.Init(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tDURATION\tPROGRESSION")
	fmt.Fprintf(tw, "%s %s\t\t\n", statusIcons[state.Status], state.Name)

	var tasks []api.TaskState
	for _, t := range state.Tasks {
		if t.Status != api.StatusCreated {
			tasks = append(tasks, t)
		}
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].StartTime == nil {
			return false
		} else if tasks[j].StartTime == nil {
			return true
		}
		return tasks[i].StartTime.Before(*tasks[j].StartTime)
	})

	for i, t := range tasks {
		prefix := "├"
		if i == len(tasks)-1 {
			prefix = "└"
		}
		name := t.Name
		if t.Tag != "" {
			name = fmt.Sprintf("%s (%s)", t.Name, t.Tag)
		}
		fmt.Fprintf(tw, "%s %s %s\t%s\t%s\n", prefix, statusIcons[t.Status], name, duration(t.StartTime, t.EndTime), progression(t.Instances))
	}
	tw.Flush()
}

func progression(instances []api.InstanceState) string {
	total := len(instances)
	switch total {
	case 0:
		return ""
	case 1:
		if instances[0].Status.Finished() {
			return "1/1"
		}
		return "0/1"
	default:
		finished := 0
		for _, inst := range instances {
			if inst.Status.Finished() {
				finished++
			}
		}
		if finished == total {
			return fmt.Sprintf("%d/%d", finished, total)
		}
		return fmt.Sprintf("%s %d/%d", progressBar(finished, total), finished, total)
	}
}

func progressBar(current, total int) string {
	value := (current * progressBarWidth) / total
	var buf bytes.Buffer
	for i := 0; i < progressBarWidth; i++ {
		if i < value {
			buf.WriteString(progressBarChar)
		} else {
			buf.WriteString(progressBarPlaceholder)
		}
	}
	return buf.String()
}

func date(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2 Jan 2006 15:04:05.000")
}

func duration(start, end *time.Time) string {
	var d time.Duration
	if start == nil {
		return ""
	}
	if end == nil {
		d = time.Since(*start)
	} else {
		d = end.Sub(*start)
	}

	if d.Seconds() <= 60.0 {
		return fmt.Sprintf("%0.0fs", d.Seconds())
	} else if d.Minutes() <= 60.0 {
		m := int64(d.Minutes())
		s := math.Mod(d.Seconds(), 60)
		return fmt.Sprintf("%0.dm %0.0fs", m, s)
	}
	h := int64(d.Hours())
	m := int64(math.Mod(d.Minutes(), 60))
	s := math.Mod(d.Seconds(), 60)
	return fmt.Sprintf("%0.dh %0.dm %0.0fs", h, m, s)
}
