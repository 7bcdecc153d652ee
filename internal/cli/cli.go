// Package cli implements the nerkit command line.
package cli

import (
	"flag"
	"io"
	"os"

	"github.com/gomlx/go-nerkit/config"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

// CLI holds the commands and their shared flags.
type CLI struct {
	version   string
	dirs      config.Dirs
	klogFlags *flag.FlagSet
	out       io.Writer
	rootCmd   *cobra.Command
}

// New creates the CLI, with directory defaults taken from the environment.
func New(version string) *CLI {
	c := &CLI{version: version, dirs: config.DirsFromEnv(), out: os.Stdout}
	c.setupCommands()
	return c
}

func (c *CLI) setupCommands() {
	c.rootCmd = &cobra.Command{
		Use:           "nerkit",
		Short:         "Train and evaluate NER models",
		Version:       c.version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	c.klogFlags = flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(c.klogFlags)
	c.rootCmd.PersistentFlags().AddGoFlagSet(c.klogFlags)

	flags := c.rootCmd.PersistentFlags()
	flags.StringVar(&c.dirs.Datasets, "dir-datasets", c.dirs.Datasets, "Datasets directory ($"+config.EnvDatasets+")")
	flags.StringVar(&c.dirs.Experiments, "dir-experiments", c.dirs.Experiments, "Experiment files directory ($"+config.EnvExperiments+")")
	flags.StringVar(&c.dirs.Tracking, "dir-tracking", c.dirs.Tracking, "Experiment tracking directory ($"+config.EnvTracking+")")
	flags.StringVar(&c.dirs.TensorBoard, "dir-tensorboard", c.dirs.TensorBoard, "TensorBoard event files directory ($"+config.EnvTensorBoard+")")
	flags.StringVar(&c.dirs.Checkpoints, "dir-checkpoints", c.dirs.Checkpoints, "Checkpoints directory ($"+config.EnvCheckpoints+")")

	c.rootCmd.AddCommand(c.newRunCommand())
	c.rootCmd.AddCommand(c.newTagMappingCommand())
	c.rootCmd.AddCommand(c.newDatasetsCommand())
	c.rootCmd.AddCommand(c.newRunsCommand())
}

// Run executes the command line and returns any error.
func (c *CLI) Run() error {
	return c.rootCmd.Execute()
}

// resolvedDirs returns the directories after flags, expanded and made absolute.
func (c *CLI) resolvedDirs() (config.Dirs, error) {
	return c.dirs.Resolve()
}
