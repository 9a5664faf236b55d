// Command accessguard is the Lambda function behind the
// Custom::EMRBlockPublicAccess resource.
package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/viper"

	"github.com/xpeteliu/cis545-group-project/internal/callback"
	"github.com/xpeteliu/cis545-group-project/internal/config"
	"github.com/xpeteliu/cis545-group-project/internal/controlplane"
	"github.com/xpeteliu/cis545-group-project/internal/logging"
	"github.com/xpeteliu/cis545-group-project/internal/reconcile"
)

func main() {
	r := build(context.Background(), newViper())
	lambda.Start(r.Handle)
}

func newViper() *viper.Viper {
	v := config.NewViper()
	v.SetDefault(config.KeyLogFormat, "json")
	return v
}

// build wires the reconciler once per process. Configuration or AWS
// setup failures do not stop the function: they are recorded so every
// event is answered FAILED with the cause.
func build(ctx context.Context, v *viper.Viper) *reconcile.Reconciler {
	cfg, err := config.Load(v)
	if err != nil {
		logging.Init("info", "json")
		logging.Error("invalid configuration", "error", err)
		return reconcile.New(nil, callback.NewTransport(),
			reconcile.WithInitError(fmt.Errorf("invalid configuration: %w", err)),
			reconcile.WithLogger(logging.Logger()),
		)
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat)

	transport := callback.NewTransport(
		callback.WithRetryPolicy(cfg.RetryPolicy()),
		callback.WithAttemptTimeout(cfg.CallbackTimeout),
		callback.WithLogger(logging.Logger()),
	)
	opts := []reconcile.Option{
		reconcile.WithLogger(logging.Logger()),
		reconcile.WithRegeneratedUpdateIDs(cfg.RegeneratePhysicalID),
	}

	awsCfg, err := cfg.AWS(ctx)
	if err != nil {
		logging.Error("failed to initialize control-plane client", "error", err)
		return reconcile.New(nil, transport, append(opts, reconcile.WithInitError(err))...)
	}

	logging.Info("access guard ready", "region", awsCfg.Region)
	return reconcile.New(controlplane.NewFromConfig(awsCfg, cfg.ControlPlaneMaxAttempts), transport, opts...)
}
