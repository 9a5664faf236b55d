package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xpeteliu/cis545-group-project/internal/config"
	"github.com/xpeteliu/cis545-group-project/internal/logging"
)

var (
	v       = config.NewViper()
	noColor bool
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "guardctl",
		Short: "Operate the EMR public access guard",
		Long: `guardctl drives the EMR block public access guard outside of CloudFormation.

It can:
  • Replay a custom resource event through the reconciler
  • Report drift of the account's EMR block public access configuration
  • Validate stack parameters and check the resources the stack depends on`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}

	flags := cmd.PersistentFlags()
	flags.StringP("region", "r", "", "AWS region to use")
	flags.StringP("profile", "p", "", "AWS shared config profile to use")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "text", "Log format (text, json)")
	flags.BoolVar(&noColor, "no-color", false, "Disable colored output")

	cmd.AddCommand(invokeCmd)
	cmd.AddCommand(statusCmd)
	cmd.AddCommand(preflightCmd)
	cmd.AddCommand(validateCmd)
	cmd.AddCommand(versionCmd)
	return cmd
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func setup(cmd *cobra.Command, _ []string) error {
	if err := config.BindFlags(v, cmd.Root().PersistentFlags()); err != nil {
		return err
	}
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat)
	return nil
}

func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func colorize(code string) string {
	if noColor {
		return ""
	}
	return code
}

func statusColor(ok bool) string {
	if ok {
		return colorize(colorGreen)
	}
	return colorize(colorRed)
}
