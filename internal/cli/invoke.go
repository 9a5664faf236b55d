package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/cfn"
	"github.com/spf13/cobra"

	"github.com/xpeteliu/cis545-group-project/internal/callback"
	"github.com/xpeteliu/cis545-group-project/internal/config"
	"github.com/xpeteliu/cis545-group-project/internal/controlplane"
	"github.com/xpeteliu/cis545-group-project/internal/logging"
	"github.com/xpeteliu/cis545-group-project/internal/reconcile"
)

// printURL stands in for a response URL when results are printed.
const printURL = "http://localhost/stdout"

var (
	invokeEvent string
	invokePrint bool
)

var invokeCmd = &cobra.Command{
	Use:   "invoke",
	Short: "Run one custom resource event through the reconciler",
	Long: `Reads a CloudFormation custom resource event from a JSON file and handles it
exactly as the Lambda function would, against the configured account.

With --print the result is written to stdout instead of being sent to the
event's ResponseURL.`,
	RunE: runInvoke,
}

func init() {
	invokeCmd.Flags().StringVarP(&invokeEvent, "event", "e", "event.json", "Path to the event JSON file")
	invokeCmd.Flags().BoolVar(&invokePrint, "print", false, "Print the result instead of sending it")
}

func readEvent(path string) (cfn.Event, error) {
	var event cfn.Event
	data, err := os.ReadFile(path)
	if err != nil {
		return event, fmt.Errorf("failed to read event: %w", err)
	}
	if err := json.Unmarshal(data, &event); err != nil {
		return event, fmt.Errorf("failed to parse event %s: %w", path, err)
	}
	return event, nil
}

// newApplier builds the control-plane client used by invoke.
var newApplier = func(ctx context.Context, cfg *config.Config) (reconcile.PolicyApplier, error) {
	awsCfg, err := cfg.AWS(ctx)
	if err != nil {
		return nil, err
	}
	return controlplane.NewFromConfig(awsCfg, cfg.ControlPlaneMaxAttempts), nil
}

func runInvoke(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}

	event, err := readEvent(invokeEvent)
	if err != nil {
		return err
	}
	logging.Debug("loaded event", "path", invokeEvent, "request_type", string(event.RequestType), "request_id", event.RequestID)

	var responder reconcile.Responder = callback.NewTransport(
		callback.WithRetryPolicy(cfg.RetryPolicy()),
		callback.WithAttemptTimeout(cfg.CallbackTimeout),
	)
	if invokePrint {
		responder = callback.NewPrinter(cmd.OutOrStdout())
		if event.ResponseURL == "" {
			event.ResponseURL = printURL
		}
	}

	opts := []reconcile.Option{
		reconcile.WithLogger(logging.Logger()),
		reconcile.WithRegeneratedUpdateIDs(cfg.RegeneratePhysicalID),
	}
	applier, err := newApplier(ctx, cfg)
	if err != nil {
		logging.Warn("control-plane client unavailable, event will be answered FAILED", "error", err)
		opts = append(opts, reconcile.WithInitError(err))
	}

	r := reconcile.New(applier, responder, opts...)
	if err := r.Handle(ctx, event); err != nil {
		return fmt.Errorf("%s event failed: %w", event.RequestType, err)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "%s%s event handled%s\n", colorize(colorGreen), event.RequestType, colorize(colorReset))
	return nil
}
