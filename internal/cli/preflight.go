package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/xpeteliu/cis545-group-project/internal/preflight"
	"github.com/xpeteliu/cis545-group-project/internal/stack"
)

// ErrPreflightFailed is returned when any preflight check fails.
var ErrPreflightFailed = errors.New("preflight checks failed")

var preflightParams string

var preflightCmd = &cobra.Command{
	Use:   "preflight",
	Short: "Check the resources the analytics stack depends on",
	Long: `Validates the stack parameters, then checks with read-only calls that the
proxy credential secret exists, the proxy security group opens 80 and 443
within the public access policy, and the launch scripts are in S3.`,
	RunE: runPreflight,
}

func init() {
	preflightCmd.Flags().StringVar(&preflightParams, "params", "parameters.json", "Path to the stack parameters file")
}

func runPreflight(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	params, err := stack.Load(preflightParams)
	if err != nil {
		return err
	}
	if err := params.Validate(); err != nil {
		return fmt.Errorf("validation failed:\n%w", err)
	}

	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	awsCfg, err := cfg.AWS(ctx)
	if err != nil {
		return err
	}

	renderInclusion(cmd, params)
	fmt.Fprintln(out)
	return runChecks(ctx, out, preflight.NewFromConfig(awsCfg), params)
}

func runChecks(ctx context.Context, out io.Writer, checker *preflight.Checker, params *stack.Parameters) error {
	results := checker.Run(ctx, params)
	renderResults(out, results)
	if preflight.Failed(results) {
		return ErrPreflightFailed
	}
	return nil
}

func renderResults(out io.Writer, results []preflight.Result) {
	for _, r := range results {
		color := colorize(colorYellow)
		switch r.Status {
		case preflight.StatusPass:
			color = statusColor(true)
		case preflight.StatusFail:
			color = statusColor(false)
		}
		fmt.Fprintf(out, "%s[%s]%s %s: %s\n", color, r.Status, colorize(colorReset), r.Name, r.Detail)
	}
}
