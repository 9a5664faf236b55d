// Package controlplane wraps the EMR block public access API.
package controlplane

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/emr"
	"github.com/aws/smithy-go"

	"github.com/xpeteliu/cis545-group-project/internal/policy"
)

// API is the subset of the EMR client used here.
type API interface {
	PutBlockPublicAccessConfiguration(ctx context.Context, params *emr.PutBlockPublicAccessConfigurationInput, optFns ...func(*emr.Options)) (*emr.PutBlockPublicAccessConfigurationOutput, error)
	GetBlockPublicAccessConfiguration(ctx context.Context, params *emr.GetBlockPublicAccessConfigurationInput, optFns ...func(*emr.Options)) (*emr.GetBlockPublicAccessConfigurationOutput, error)
}

// Client applies and reads the account-level public access configuration.
// It holds no mutable state and is safe for concurrent use.
type Client struct {
	api API
}

// New wraps an existing EMR API implementation.
func New(api API) *Client {
	return &Client{api: api}
}

// NewFromConfig builds a client from a loaded AWS config. maxAttempts caps
// the SDK's own retries; 1 disables them.
func NewFromConfig(cfg aws.Config, maxAttempts int) *Client {
	return New(emr.NewFromConfig(cfg, func(o *emr.Options) {
		if maxAttempts > 0 {
			o.RetryMaxAttempts = maxAttempts
		}
	}))
}

// Apply sets the public access configuration. Re-applying the same policy
// is always safe.
func (c *Client) Apply(ctx context.Context, p policy.AccessPolicy) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("refusing to apply policy: %w", err)
	}

	_, err := c.api.PutBlockPublicAccessConfiguration(ctx, &emr.PutBlockPublicAccessConfigurationInput{
		BlockPublicAccessConfiguration: p.ToEMR(),
	})
	if err != nil {
		return newOperationError("PutBlockPublicAccessConfiguration", err)
	}
	return nil
}

// Current reads the configuration currently in effect.
func (c *Client) Current(ctx context.Context) (policy.AccessPolicy, error) {
	out, err := c.api.GetBlockPublicAccessConfiguration(ctx, &emr.GetBlockPublicAccessConfigurationInput{})
	if err != nil {
		return policy.AccessPolicy{}, newOperationError("GetBlockPublicAccessConfiguration", err)
	}
	return policy.FromEMR(out.BlockPublicAccessConfiguration), nil
}

// OperationError is a rejected control-plane call. Code carries the
// service's machine-readable error code when one is available.
type OperationError struct {
	Operation string
	Code      string
	Err       error
}

func newOperationError(op string, err error) *OperationError {
	oe := &OperationError{Operation: op, Err: err}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		oe.Code = ae.ErrorCode()
	}
	return oe
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("emr %s failed: %v", e.Operation, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}
