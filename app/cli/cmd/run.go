package cmd

import (
	gocontext "context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tm "github.com/buger/goterm"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"nereus/pkg/api"
	"nereus/pkg/definition"
	"nereus/pkg/report"
	"nereus/pkg/scheduler"
	"nereus/pkg/store"
	"nereus/pkg/util/config"
	"nereus/pkg/util/context"
)

type runOpts struct {
	params  []string // --param
	resume  bool     // --resume
	profile string   // --profile
	config  string   // --config
	watch   bool     // --watch
}

// NewRunCommand returns a new instance of a nereus command
func NewRunCommand() *cobra.Command {
	var opts runOpts
	command := &cobra.Command{
		Use:   "run <pipeline-definition>",
		Short: "run a pipeline to completion",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := run(args[0], opts); err != nil {
				log.Fatal(err)
			}
		},
	}
	command.Flags().StringArrayVarP(&opts.params, "param", "p", nil, "pipeline parameter override as name=value, repeatable")
	command.Flags().BoolVar(&opts.resume, "resume", false, "reuse cached artifacts from previous runs")
	command.Flags().StringVar(&opts.profile, "profile", "", "configuration profile to apply")
	command.Flags().StringVar(&opts.config, "config", "", "configuration file holding the profiles")
	command.Flags().BoolVarP(&opts.watch, "watch", "w", false, "render live progress until the run completes")
	return command
}

func run(path string, opts runOpts) error {
	cfg := scheduler.DefaultConfig()
	if err := config.LoadFile(opts.config, opts.profile, &cfg); err != nil {
		return errors.Wrap(err, "cannot load configuration")
	}
	if opts.resume {
		cfg.Resume = true
	}

	doc, err := definition.LoadFile(path)
	if err != nil {
		return err
	}
	overrides, err := parseParams(opts.params)
	if err != nil {
		return err
	}
	g, params, err := definition.Compile(doc, overrides)
	if err != nil {
		return err
	}

	sched, err := scheduler.New(cfg)
	if err != nil {
		return err
	}

	base, stop := signal.NotifyContext(gocontext.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx := context.WithRunID(context.FromContext(base), uuid.New().String())

	sched.SetCompletionFunc(func(ctx context.Context, state api.RunState) error {
		tracePath, err := report.WriteTrace(filepath.Join(cfg.RunDir, ctx.RunID()), state, params)
		if err != nil {
			return err
		}
		if !opts.watch {
			report.Print(os.Stdout, state)
		}
		fmt.Println(report.Summarize(state, params).String())
		fmt.Printf("Trace written to %s\n", tracePath)
		return nil
	})

	var stopWatch func()
	if opts.watch {
		stopWatch = watch(sched.Store(), ctx.RunID())
	}
	_, runErr := sched.Run(ctx, g, doc.Name, params)
	if stopWatch != nil {
		stopWatch()
	}
	return runErr
}

// watch renders the run state once per second until stopped.
func watch(s *store.RunStore, runID string) func() {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		tm.Clear()
		for {
			state, err := s.RunState(runID)
			if err == nil {
				tm.MoveCursor(1, 1)
				report.Print(tm.Screen, state)
				tm.Flush()
			}
			select {
			case <-done:
				return
			case <-time.After(1 * time.Second):
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

// parseParams turns repeated name=value flags into an override map.
func parseParams(in []string) (map[string]interface{}, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[string]interface{}, len(in))
	for _, p := range in {
		parts := strings.SplitN(p, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, api.Configurationf("invalid parameter %q, expected name=value", p)
		}
		out[parts[0]] = parts[1]
	}
	return out, nil
}
