// Package executor runs the fully-substituted command of one task instance.
// The contract is POSIX process semantics: exit code, stdout/stderr captured
// into the instance namespace, output files produced relative to it.
package executor

import (
	"nereus/pkg/util/context"
)

const (
	// OutFile and ErrFile are the capture files written into the instance
	// namespace by every backend.
	OutFile = ".command.out"
	ErrFile = ".command.err"
)

// Command is a fully-resolved instance execution request.
type Command struct {
	// Line is the substituted command, interpreted by sh -c.
	Line string

	// Dir is the instance namespace the command runs in.
	Dir string

	// Env is the environment visible to the command, NAME=value pairs.
	// The host environment is not inherited.
	Env []string

	// Image selects the container for the docker backend; ignored by local.
	Image string
}

// Result is the outcome of a finished command.
type Result struct {
	ExitCode int
}

// Executor is one execution backend. Run blocks until the command finishes
// or ctx is cancelled; a non-zero exit is reported in Result, not as error.
type Executor interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}
