// Package commands implements the refprep command tree.
package commands

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nvr-ai/go-refer/config"
)

// globalFlags are shared by every sub-command.
type globalFlags struct {
	configPath string
	debug      bool
	overrides  config.Options
}

// NewRootCmd creates the refprep command tree.
func NewRootCmd(version string) *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "refprep",
		Short: "Referring-expression region alignment and packing",
		Long: `refprep turns referring-expression annotations and precomputed region
features into fixed-shape examples: merged candidate regions, soft
overlap labels against the referred box and a tokenized caption.

Configuration is read from refprep.yaml, REFPREP_* environment variables
and the flags below, in increasing priority.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(flags.debug)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "Path to configuration file")
	pf.BoolVar(&flags.debug, "debug", false, "Enable debug logging")
	pf.StringVar(&flags.overrides.Task, "task", "", "Dataset task, e.g. refcoco+")
	pf.StringVar(&flags.overrides.Split, "split", "", "Annotation split")
	pf.StringVar(&flags.overrides.DataRoot, "data-root", "", "Annotation root directory")
	pf.BoolVar(&flags.overrides.NoCache, "no-cache", false, "Disable the entry cache")

	rootCmd.AddCommand(newBuildCacheCmd(flags))
	rootCmd.AddCommand(newFetchCmd(flags))
	rootCmd.AddCommand(newBenchCmd(flags))
	rootCmd.AddCommand(newImportFeaturesCmd(flags))
	rootCmd.AddCommand(newConfigCmd(flags))

	return rootCmd
}

func setupLogging(debug bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func (f *globalFlags) load() (*config.Config, error) {
	cfg, err := config.Load(f.configPath, f.overrides)
	if err != nil {
		return nil, err
	}
	if !f.debug {
		if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && lvl != zerolog.NoLevel {
			zerolog.SetGlobalLevel(lvl)
		}
	}
	return cfg, nil
}
