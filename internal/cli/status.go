package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/xpeteliu/cis545-group-project/internal/controlplane"
	"github.com/xpeteliu/cis545-group-project/internal/policy"
)

// ErrDrift is returned by status when the live configuration differs from
// the guarded policy.
var ErrDrift = errors.New("EMR block public access configuration has drifted")

// policyReader is satisfied by *controlplane.Client.
type policyReader interface {
	Current(ctx context.Context) (policy.AccessPolicy, error)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the EMR block public access configuration and drift",
	Long: `Reads the account's EMR block public access configuration in the configured
region and compares it with the policy the guard enforces. Exits non-zero on drift.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	awsCfg, err := cfg.AWS(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Region: %s\n", awsCfg.Region)
	return reportStatus(ctx, cmd.OutOrStdout(), controlplane.NewFromConfig(awsCfg, cfg.ControlPlaneMaxAttempts), policy.Default())
}

func reportStatus(ctx context.Context, out io.Writer, reader policyReader, want policy.AccessPolicy) error {
	current, err := reader.Current(ctx)
	if err != nil {
		return fmt.Errorf("failed to read configuration: %w", err)
	}

	fmt.Fprintf(out, "Block public security group rules: %t\n", current.BlockPublicRules)
	fmt.Fprintf(out, "Permitted public port ranges:      %s\n", current.PortList())

	diffs := want.Diff(current)
	if len(diffs) == 0 {
		fmt.Fprintf(out, "\n%sIn sync with the guarded policy.%s\n", statusColor(true), colorize(colorReset))
		return nil
	}

	fmt.Fprintf(out, "\n%sDrift detected:%s\n", statusColor(false), colorize(colorReset))
	for _, d := range diffs {
		fmt.Fprintf(out, "  ~ %s\n", d)
	}
	return ErrDrift
}
