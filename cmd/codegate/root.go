package main

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/rhuss/codegate/pkg/config"
	"github.com/rhuss/codegate/pkg/debug"
)

var version = "dev"

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	debug      string
}

// load reads the configuration and applies its logging settings. A --debug
// flag overrides the configured categories.
func (o *globalOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	cats := cfg.Logging.Debug
	if o.debug != "" {
		cats = o.debug
	}
	debug.Init(debug.Options{
		Categories: cats,
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
	})
	return cfg, nil
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:   "codegate",
		Short: "Codegate - human approval gate for AI-generated code",
		Long: `Codegate sits between a reasoning loop that writes Python and the
interpreter that runs it. Every proposed program waits for a human to
approve or cancel it; approved programs run in a per-session working
directory and their output and produced files are reported back.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// A missing .env is fine.
			_ = godotenv.Load()
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML or TOML config file")
	cmd.PersistentFlags().StringVar(&opts.debug, "debug", "", "Comma-separated debug categories (gate,harness,steps,archive,config,http or all)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newExecCommand(opts))
	cmd.AddCommand(newArchiveCommand(opts))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the codegate version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("codegate %s\n", version)
		},
	}
}

func execute() error {
	rootCmd := newRootCommand()
	return rootCmd.Execute()
}
