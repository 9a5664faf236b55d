// Package reconcile answers custom resource lifecycle events for the EMR
// block public access guard.
//
// A Reconciler turns one event into at most one control-plane mutation and
// exactly one result delivered to the event's response URL. The result is
// delivered on every path, including a panic, before Handle returns.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/aws/aws-lambda-go/cfn"
	"github.com/google/uuid"

	"github.com/xpeteliu/cis545-group-project/internal/logging"
	"github.com/xpeteliu/cis545-group-project/internal/policy"
)

// PhysicalIDPrefix prefixes every generated physical resource id.
const PhysicalIDPrefix = "accessguard-"

// PolicyApplier sets the account-level public access configuration.
type PolicyApplier interface {
	Apply(ctx context.Context, p policy.AccessPolicy) error
}

// Responder delivers a result envelope to a response URL.
type Responder interface {
	Send(ctx context.Context, url string, resp *cfn.Response) error
}

// Reconciler handles lifecycle events. It keeps no state between events
// and may be shared by concurrent invocations.
type Reconciler struct {
	applier   PolicyApplier
	initErr   error
	responder Responder
	policy    func() policy.AccessPolicy
	newID     func() string
	regenID   bool
	logger    *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithInitError records that building the control-plane client failed.
// Every event will then be answered FAILED without calling the applier.
func WithInitError(err error) Option {
	return func(r *Reconciler) {
		r.initErr = err
	}
}

// WithIDGenerator overrides physical id generation.
func WithIDGenerator(fn func() string) Option {
	return func(r *Reconciler) {
		r.newID = fn
	}
}

// WithRegeneratedUpdateIDs issues a new physical id on every Update
// instead of keeping the one assigned at Create.
func WithRegeneratedUpdateIDs(enabled bool) Option {
	return func(r *Reconciler) {
		r.regenID = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = l
	}
}

// New returns a Reconciler applying policy.Default through applier and
// answering through responder.
func New(applier PolicyApplier, responder Responder, opts ...Option) *Reconciler {
	r := &Reconciler{
		applier:   applier,
		responder: responder,
		policy:    policy.Default,
		newID:     NewPhysicalID,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.applier == nil && r.initErr == nil {
		r.initErr = errors.New("no control-plane client configured")
	}
	if r.logger == nil {
		r.logger = logging.Logger()
	}
	return r
}

// NewPhysicalID returns a fresh physical resource id.
func NewPhysicalID() string {
	return PhysicalIDPrefix + uuid.NewString()
}

// Handle processes one event. The result is always sent to the event's
// response URL unless that URL is missing or malformed. Failures are
// returned after the result has been sent; a panic is re-raised after the
// result has been sent.
func (r *Reconciler) Handle(ctx context.Context, event cfn.Event) (err error) {
	env := EnvelopeOf(event)
	log := r.logger.With(
		"request_id", env.RequestID,
		"stack_id", env.StackID,
		"logical_resource_id", env.LogicalResourceID,
		"request_type", string(event.RequestType),
	)

	if urlErr := ValidateResponseURL(env.ResponseURL); urlErr != nil {
		log.Error("cannot answer event without a response URL", "error", urlErr)
		return urlErr
	}

	resp := &cfn.Response{
		Status:             cfn.StatusFailed,
		RequestID:          env.RequestID,
		LogicalResourceID:  env.LogicalResourceID,
		StackID:            env.StackID,
		PhysicalResourceID: event.PhysicalResourceID,
	}

	defer func() {
		recovered := recover()
		if recovered != nil {
			fault := &UnexpectedFault{Value: recovered}
			resp.Status = cfn.StatusFailed
			resp.Reason = fault.Error()
			resp.Data = nil
			log.Error("unexpected fault while handling event",
				"error", fault,
				"stack", string(debug.Stack()),
			)
		}
		if resp.PhysicalResourceID == "" {
			resp.PhysicalResourceID = r.newID()
		}

		if sendErr := r.responder.Send(ctx, env.ResponseURL, resp); sendErr != nil {
			log.Error("failed to deliver result", "status", string(resp.Status), "error", sendErr)
			err = errors.Join(err, sendErr)
		}

		if recovered != nil {
			panic(recovered)
		}
	}()

	req, parseErr := Parse(event)
	if parseErr != nil {
		if r.initErr != nil {
			parseErr = errors.Join(parseErr, &InitializationError{Err: r.initErr})
		}
		log.Error("rejecting event", "error", parseErr)
		resp.Reason = parseErr.Error()
		return parseErr
	}

	result, recErr := r.reconcile(ctx, req)
	resp.PhysicalResourceID = result.PhysicalResourceID
	if recErr != nil {
		log.Error("reconciliation failed", "error", recErr, "physical_resource_id", result.PhysicalResourceID)
		resp.Reason = recErr.Error()
		return recErr
	}

	resp.Status = cfn.StatusSuccess
	resp.Data = result.Data
	log.Info("reconciliation succeeded", "physical_resource_id", result.PhysicalResourceID)
	return nil
}

// Result is the outcome of reconciling one request.
type Result struct {
	PhysicalResourceID string
	Data               map[string]interface{}
}

func (r *Reconciler) reconcile(ctx context.Context, req Request) (Result, error) {
	var res Result

	switch req := req.(type) {
	case CreateRequest:
		res.PhysicalResourceID = r.newID()
	case UpdateRequest:
		res.PhysicalResourceID = req.PhysicalResourceID
		if res.PhysicalResourceID == "" || r.regenID {
			res.PhysicalResourceID = r.newID()
		}
	case DeleteRequest:
		res.PhysicalResourceID = req.PhysicalResourceID
	default:
		return res, &ContractError{Field: "RequestType", Value: string(req.Type()), Msg: "unsupported request"}
	}

	if r.initErr != nil {
		return res, &InitializationError{Err: r.initErr}
	}

	// The policy is account-scoped and outlives this resource, so Delete
	// leaves it in place.
	if req.Type() == cfn.RequestDelete {
		return res, nil
	}

	p := r.policy()
	if err := r.applier.Apply(ctx, p); err != nil {
		return res, fmt.Errorf("failed to set public access configuration: %w", err)
	}

	res.Data = map[string]interface{}{
		"BlockPublicSecurityGroupRules": fmt.Sprintf("%t", p.BlockPublicRules),
		"PermittedPortRanges":           p.PortList(),
	}
	return res, nil
}
