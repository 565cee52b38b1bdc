// Package cli implements the spread command line interface.
package cli

import (
	goflag "flag"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose bool
}

// NewRootCommand creates the root command for the spread CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "spread",
		Short: "Spread - differentiable MapReduce for Go",
		Long:  "Spread runs differentiable broadcast/map/reduce programs over placed tensors.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			fs := goflag.NewFlagSet("klog", goflag.ContinueOnError)
			klog.InitFlags(fs)
			if opts.Verbose {
				_ = fs.Set("v", "2")
			}
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output (traces primitive calls)")

	cmd.AddCommand(NewDemoCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}
