package api

import (
	"fmt"

	"github.com/pkg/errors"
)

// ConfigurationError is returned for missing or invalid parameters, absent
// input files, empty required channels and unsatisfiable resource hints.
// It always aborts the run before scheduling begins.
type ConfigurationError struct {
	msg string
}

func (e ConfigurationError) Error() string {
	return e.msg
}

// Configurationf returns a new ConfigurationError.
func Configurationf(format string, args ...interface{}) error {
	return ConfigurationError{msg: fmt.Sprintf(format, args...)}
}

// IsConfiguration returns true if the error is a ConfigurationError.
func IsConfiguration(err error) bool {
	_, ok := errors.Cause(err).(ConfigurationError)
	return ok
}

// GraphError is returned for structural problems detected at build time:
// cycles, dangling channel references, unbound ports.
// It always aborts the run before scheduling begins.
type GraphError struct {
	msg string
}

func (e GraphError) Error() string {
	return e.msg
}

// Graphf returns a new GraphError.
func Graphf(format string, args ...interface{}) error {
	return GraphError{msg: fmt.Sprintf(format, args...)}
}

// IsGraph returns true if the error is a GraphError.
func IsGraph(err error) bool {
	_, ok := errors.Cause(err).(GraphError)
	return ok
}

// TaskFailure is the error recorded for an instance whose external command
// exited non-zero, timed out, or finished without its declared outputs.
// It is handled per the task's failure policy, never as a build-time abort.
type TaskFailure struct {
	Task     string
	Instance string
	ExitCode int
	Reason   string
}

func (e TaskFailure) Error() string {
	return fmt.Sprintf("task %s instance %s failed: %s", e.Task, e.Instance, e.Reason)
}

// IsTaskFailure returns true if the error is a TaskFailure.
func IsTaskFailure(err error) bool {
	_, ok := errors.Cause(err).(TaskFailure)
	return ok
}
