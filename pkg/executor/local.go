package executor

import (
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"nereus/pkg/util/context"
)

// killGracePeriod is how long a cancelled command gets between SIGTERM
// and SIGKILL.
const killGracePeriod = 10 * time.Second

type local struct{}

// NewLocal returns an Executor running commands on the host through sh -c.
func NewLocal() Executor {
	return local{}
}

func (local) Run(ctx context.Context, cmd Command) (Result, error) {
	if cmd.Line == "" {
		return Result{}, errors.New("empty command line")
	}

	stdout, err := os.Create(filepath.Join(cmd.Dir, OutFile))
	if err != nil {
		return Result{}, errors.Wrap(err, "cannot create stdout capture")
	}
	defer stdout.Close()
	stderr, err := os.Create(filepath.Join(cmd.Dir, ErrFile))
	if err != nil {
		return Result{}, errors.Wrap(err, "cannot create stderr capture")
	}
	defer stderr.Close()

	c := exec.Command("sh", "-c", cmd.Line)
	c.Dir = cmd.Dir
	c.Env = cmd.Env
	c.Stdout = stdout
	c.Stderr = stderr
	// Own process group so cancellation reaches the whole process tree.
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := c.Start(); err != nil {
		return Result{}, errors.Wrapf(err, "cannot start command %q", cmd.Line)
	}
	ctx.Logger().Debugf("started pid %d", c.Process.Pid)

	done := make(chan error, 1)
	go func() {
		done <- c.Wait()
	}()

	select {
	case <-ctx.Done():
		pgid := -c.Process.Pid
		syscall.Kill(pgid, syscall.SIGTERM)
		select {
		case <-done:
		case <-time.After(killGracePeriod):
			ctx.Logger().Warnf("pid %d did not stop on SIGTERM, killing", c.Process.Pid)
			syscall.Kill(pgid, syscall.SIGKILL)
			<-done
		}
		return Result{}, ctx.Err()
	case err = <-done:
	}

	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return Result{}, errors.Wrapf(err, "command %q failed", cmd.Line)
		}
		return Result{ExitCode: exitErr.ExitCode()}, nil
	}
	return Result{ExitCode: 0}, nil
}
