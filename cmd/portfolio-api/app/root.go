package app

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/aq2208/portfolio-api/configs"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigDir string
	Env       string // dev | staging | prod | test
}

func (o *RootOptions) load() (configs.Config, error) {
	return configs.Load(o.ConfigDir, o.Env)
}

func NewRootCommand() *cobra.Command {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "portfolio-api",
		Short:         "Order ledger and background task API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.ConfigDir, "config-dir", "configs", "directory holding base.yaml and <env>.yaml")
	cmd.PersistentFlags().StringVar(&opts.Env, "env", env, "config environment overlay")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewHealthcheckCommand(opts))
	return cmd
}
