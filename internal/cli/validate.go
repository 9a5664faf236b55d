package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xpeteliu/cis545-group-project/internal/stack"
)

var validateParams string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate stack parameters",
	Long:  `Validates a stack parameters file without calling AWS and shows which optional resources the stack would include.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateParams, "params", "parameters.json", "Path to the stack parameters file")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Checking %s... ", validateParams)
	params, err := stack.Load(validateParams)
	if err != nil {
		fmt.Fprintln(out, "FAILED")
		return err
	}
	if err := params.Validate(); err != nil {
		fmt.Fprintln(out, "FAILED")
		return fmt.Errorf("validation failed:\n%w", err)
	}
	fmt.Fprintln(out, "OK")

	renderInclusion(cmd, params)
	fmt.Fprintln(out, "\nParameters are valid!")
	return nil
}

func renderInclusion(cmd *cobra.Command, params *stack.Parameters) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nCluster %q (%s), %d x %s core nodes\n",
		params.ClusterName, params.ReleaseLabel, params.CoreInstanceCount, params.CoreInstanceType)
	fmt.Fprintf(out, "  %s bootstrap actions\n", included(params.IncludeBootstrapActions()))
	fmt.Fprintf(out, "  %s additional security group\n", included(params.IncludeSecurityGroup()))
}

func included(yes bool) string {
	if yes {
		return colorize(colorGreen) + "+" + colorize(colorReset)
	}
	return colorize(colorYellow) + "-" + colorize(colorReset)
}
