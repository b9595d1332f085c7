package cmd

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"nereus/pkg/definition"
)

type graphOpts struct {
	params []string // --param
}

// NewGraphCommand returns a new instance of a nereus command
func NewGraphCommand() *cobra.Command {
	var opts graphOpts
	command := &cobra.Command{
		Use:   "graph <pipeline-definition>",
		Short: "print the pruned task graph without running it",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := describe(args[0], opts); err != nil {
				log.Fatal(err)
			}
		},
	}
	command.Flags().StringArrayVarP(&opts.params, "param", "p", nil, "pipeline parameter override as name=value, repeatable")
	return command
}

func describe(path string, opts graphOpts) error {
	doc, err := definition.LoadFile(path)
	if err != nil {
		return err
	}
	overrides, err := parseParams(opts.params)
	if err != nil {
		return err
	}
	g, _, err := definition.Compile(doc, overrides)
	if err != nil {
		return err
	}
	g.Describe(os.Stdout)
	return nil
}
