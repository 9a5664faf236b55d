package reconcile

import (
	"net/url"

	"github.com/aws/aws-lambda-go/cfn"
)

// Envelope is the routing information common to every lifecycle event.
type Envelope struct {
	RequestID         string
	StackID           string
	LogicalResourceID string
	ResourceType      string
	ResponseURL       string
}

// Request is a validated lifecycle event. The concrete type is one of
// CreateRequest, UpdateRequest or DeleteRequest.
type Request interface {
	Type() cfn.RequestType
	Envelope() Envelope
}

// CreateRequest asks for the policy to be applied for the first time.
type CreateRequest struct {
	env        Envelope
	Properties map[string]interface{}
}

func (r CreateRequest) Type() cfn.RequestType { return cfn.RequestCreate }
func (r CreateRequest) Envelope() Envelope    { return r.env }

// UpdateRequest re-applies the policy for an existing resource.
type UpdateRequest struct {
	env                Envelope
	PhysicalResourceID string
	Properties         map[string]interface{}
	OldProperties      map[string]interface{}
}

func (r UpdateRequest) Type() cfn.RequestType { return cfn.RequestUpdate }
func (r UpdateRequest) Envelope() Envelope    { return r.env }

// DeleteRequest removes the resource from the stack. Only the physical id
// is needed to answer it.
type DeleteRequest struct {
	env                Envelope
	PhysicalResourceID string
}

func (r DeleteRequest) Type() cfn.RequestType { return cfn.RequestDelete }
func (r DeleteRequest) Envelope() Envelope    { return r.env }

// EnvelopeOf extracts the routing fields of an event without validating it.
func EnvelopeOf(event cfn.Event) Envelope {
	return Envelope{
		RequestID:         event.RequestID,
		StackID:           event.StackID,
		LogicalResourceID: event.LogicalResourceID,
		ResourceType:      event.ResourceType,
		ResponseURL:       event.ResponseURL,
	}
}

// ValidateResponseURL checks that a result can be delivered at all.
func ValidateResponseURL(raw string) error {
	if raw == "" {
		return &ContractError{Field: "ResponseURL", Msg: "is required"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return &ContractError{Field: "ResponseURL", Value: raw, Msg: err.Error()}
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return &ContractError{Field: "ResponseURL", Value: raw, Msg: "must be an absolute http(s) URL"}
	}
	return nil
}

// Parse validates event and converts it to a typed Request.
func Parse(event cfn.Event) (Request, error) {
	env := EnvelopeOf(event)

	if err := ValidateResponseURL(env.ResponseURL); err != nil {
		return nil, err
	}
	if env.RequestID == "" {
		return nil, &ContractError{Field: "RequestId", Msg: "is required"}
	}
	if env.StackID == "" {
		return nil, &ContractError{Field: "StackId", Msg: "is required"}
	}

	switch event.RequestType {
	case cfn.RequestCreate:
		return CreateRequest{
			env:        env,
			Properties: event.ResourceProperties,
		}, nil
	case cfn.RequestUpdate:
		return UpdateRequest{
			env:                env,
			PhysicalResourceID: event.PhysicalResourceID,
			Properties:         event.ResourceProperties,
			OldProperties:      event.OldResourceProperties,
		}, nil
	case cfn.RequestDelete:
		return DeleteRequest{
			env:                env,
			PhysicalResourceID: event.PhysicalResourceID,
		}, nil
	default:
		return nil, &ContractError{
			Field: "RequestType",
			Value: string(event.RequestType),
			Msg:   "unrecognized operation, expected Create, Update or Delete",
		}
	}
}
