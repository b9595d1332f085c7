package executor

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/pkg/errors"

	"nereus/pkg/util/context"
)

// workdirInContainer is where the instance namespace is mounted.
const workdirInContainer = "/workspace"

type dockerExec struct {
	cli *client.Client
}

// NewDocker returns an Executor running commands inside containers, one
// container per instance. The docker endpoint is taken from the environment.
func NewDocker() (Executor, error) {
	cli, err := client.NewEnvClient()
	if err != nil {
		return nil, errors.Wrap(err, "cannot create docker client")
	}
	return dockerExec{cli}, nil
}

func (d dockerExec) Run(ctx context.Context, cmd Command) (Result, error) {
	if cmd.Image == "" {
		return Result{}, errors.New("no container image")
	}

	resp, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image:      cmd.Image,
		Cmd:        []string{"sh", "-c", cmd.Line},
		WorkingDir: workdirInContainer,
		Env:        cmd.Env,
		Labels: map[string]string{
			"nereus.run":      ctx.RunID(),
			"nereus.task":     ctx.TaskName(),
			"nereus.instance": ctx.InstanceID(),
		},
	}, &container.HostConfig{
		Binds: []string{fmt.Sprintf("%s:%s", cmd.Dir, workdirInContainer)},
	}, nil, "")
	if err != nil {
		return Result{}, errors.Wrapf(err, "cannot create container for image %s", cmd.Image)
	}
	defer d.cli.ContainerRemove(context.Background(), resp.ID, types.ContainerRemoveOptions{Force: true})

	if err := d.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return Result{}, errors.Wrapf(err, "cannot start container %s", resp.ID)
	}
	ctx.Logger().Debugf("started container %s", resp.ID[:12])

	done := make(chan struct{})
	var code int64
	var waitErr error
	go func() {
		code, waitErr = d.cli.ContainerWait(context.Background(), resp.ID)
		close(done)
	}()

	select {
	case <-ctx.Done():
		// Force removal kills the container, which unblocks the wait.
		d.cli.ContainerRemove(context.Background(), resp.ID, types.ContainerRemoveOptions{Force: true})
		<-done
		return Result{}, ctx.Err()
	case <-done:
	}
	if waitErr != nil {
		return Result{}, errors.Wrapf(waitErr, "cannot wait for container %s", resp.ID)
	}

	if err := d.captureLogs(ctx, resp.ID, cmd.Dir); err != nil {
		return Result{}, err
	}
	return Result{ExitCode: int(code)}, nil
}

func (d dockerExec) captureLogs(ctx context.Context, containerID, dir string) error {
	logs, err := d.cli.ContainerLogs(ctx, containerID, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return errors.Wrapf(err, "cannot read logs of container %s", containerID)
	}
	defer logs.Close()

	stdout, err := os.Create(filepath.Join(dir, OutFile))
	if err != nil {
		return errors.Wrap(err, "cannot create stdout capture")
	}
	defer stdout.Close()
	stderr, err := os.Create(filepath.Join(dir, ErrFile))
	if err != nil {
		return errors.Wrap(err, "cannot create stderr capture")
	}
	defer stderr.Close()

	if _, err := stdcopy.StdCopy(stdout, stderr, logs); err != nil {
		return errors.Wrapf(err, "cannot demultiplex logs of container %s", containerID)
	}
	return nil
}
