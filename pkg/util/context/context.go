package context

import (
	gocontext "context"
	"os"

	"github.com/sirupsen/logrus"
)

// Context extends the regular golang context.Context interface with access to
// a logger pre-tagged with the identifiers of the current run, task and instance.
type Context interface {
	gocontext.Context
	Logger() *logrus.Entry
	RunID() string
	TaskName() string
	InstanceID() string
}

// Background returns a non-nil, empty Context.
func Background() Context {
	return ctx{
		Context: gocontext.Background(),
	}
}

// FromContext returns a new context from the given go context.
func FromContext(c gocontext.Context) Context {
	return ctx{
		Context: c,
	}
}

// WithCancel returns a copy of the context with a cancel function.
func WithCancel(c Context) (Context, gocontext.CancelFunc) {
	gc, cancel := gocontext.WithCancel(c)
	return ctx{
		gc,
		c.RunID(),
		c.TaskName(),
		c.InstanceID(),
	}, cancel
}

// WithRunID returns a copy of the context with a run ID.
func WithRunID(c Context, runID string) Context {
	return ctx{
		c,
		runID,
		c.TaskName(),
		c.InstanceID(),
	}
}

// WithTaskName returns a copy of the context with a task name.
func WithTaskName(c Context, task string) Context {
	return ctx{
		c,
		c.RunID(),
		task,
		c.InstanceID(),
	}
}

// WithInstanceID returns a copy of the context with an instance ID.
func WithInstanceID(c Context, instanceID string) Context {
	return ctx{
		c,
		c.RunID(),
		c.TaskName(),
		instanceID,
	}
}

type ctx struct {
	gocontext.Context
	runID      string
	taskName   string
	instanceID string
}

func (c ctx) Logger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logLevel())
	l.SetFormatter(&logrus.TextFormatter{
		DisableColors: true,
		FullTimestamp: true,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyMsg: "message",
		},
	})
	e := logrus.NewEntry(l)
	if c.RunID() != "" {
		e = e.WithField("run_id", c.RunID())
	}
	if c.TaskName() != "" {
		e = e.WithField("task", c.TaskName())
	}
	if c.InstanceID() != "" {
		e = e.WithField("instance", c.InstanceID())
	}
	return e
}

func (c ctx) RunID() string {
	return c.runID
}

func (c ctx) TaskName() string {
	return c.taskName
}

func (c ctx) InstanceID() string {
	return c.instanceID
}

func logLevel() logrus.Level {
	if lvl, err := logrus.ParseLevel(os.Getenv("NEREUS_LOG_LEVEL")); err == nil {
		return lvl
	}
	return logrus.InfoLevel
}
