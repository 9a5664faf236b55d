package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/cfn"
	"github.com/aws/aws-sdk-go-v2/service/emr"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpeteliu/cis545-group-project/internal/callback"
	"github.com/xpeteliu/cis545-group-project/internal/controlplane"
	"github.com/xpeteliu/cis545-group-project/internal/logging"
	"github.com/xpeteliu/cis545-group-project/internal/policy"
	"github.com/xpeteliu/cis545-group-project/internal/retry"
)

// fakeEMR records every mutation it receives.
type fakeEMR struct {
	mu     sync.Mutex
	puts   []*emr.PutBlockPublicAccessConfigurationInput
	putErr error
}

func (f *fakeEMR) PutBlockPublicAccessConfiguration(_ context.Context, params *emr.PutBlockPublicAccessConfigurationInput, _ ...func(*emr.Options)) (*emr.PutBlockPublicAccessConfigurationOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, params)
	if f.putErr != nil {
		return nil, f.putErr
	}
	return &emr.PutBlockPublicAccessConfigurationOutput{}, nil
}

func (f *fakeEMR) GetBlockPublicAccessConfiguration(context.Context, *emr.GetBlockPublicAccessConfigurationInput, ...func(*emr.Options)) (*emr.GetBlockPublicAccessConfigurationOutput, error) {
	return &emr.GetBlockPublicAccessConfigurationOutput{}, nil
}

func (f *fakeEMR) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.puts)
}

// recorder is an in-memory Responder.
type recorder struct {
	urls      []string
	responses []*cfn.Response
	err       error
}

func (r *recorder) Send(_ context.Context, url string, resp *cfn.Response) error {
	copied := *resp
	r.urls = append(r.urls, url)
	r.responses = append(r.responses, &copied)
	return r.err
}

func (r *recorder) only(t *testing.T) *cfn.Response {
	t.Helper()
	require.Len(t, r.responses, 1, "exactly one result must be delivered")
	return r.responses[0]
}

type panickingApplier struct{}

func (panickingApplier) Apply(context.Context, policy.AccessPolicy) error {
	panic("nil map write")
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return PhysicalIDPrefix + string(rune('0'+n))
	}
}

func newTestReconciler(api *fakeEMR, rec *recorder, opts ...Option) *Reconciler {
	opts = append([]Option{
		WithLogger(logging.Discard()),
		WithIDGenerator(sequentialIDs()),
	}, opts...)
	return New(controlplane.New(api), rec, opts...)
}

func TestCreateAndUpdateApplyFixedPolicy(t *testing.T) {
	for _, rt := range []cfn.RequestType{cfn.RequestCreate, cfn.RequestUpdate} {
		t.Run(string(rt), func(t *testing.T) {
			api := &fakeEMR{}
			rec := &recorder{}
			r := newTestReconciler(api, rec)

			ev := baseEvent(rt)
			ev.PhysicalResourceID = "accessguard-existing"
			ev.ResourceProperties["BlockPublicSecurityGroupRules"] = "false"
			ev.ResourceProperties["PermittedPorts"] = []interface{}{"8080"}

			require.NoError(t, r.Handle(context.Background(), ev))

			require.Equal(t, 1, api.calls())
			got := policy.FromEMR(api.puts[0].BlockPublicAccessConfiguration)
			assert.True(t, got.BlockPublicRules)
			assert.Equal(t, []policy.PortRange{{Min: 22, Max: 22}, {Min: 80, Max: 80}, {Min: 443, Max: 443}}, got.AllowedPortRanges)

			resp := rec.only(t)
			assert.Equal(t, cfn.StatusSuccess, resp.Status)
			assert.Empty(t, resp.Reason)
			assert.Equal(t, "true", resp.Data["BlockPublicSecurityGroupRules"])
			assert.Equal(t, "22,80,443", resp.Data["PermittedPortRanges"])
			assert.Equal(t, "req-1", resp.RequestID)
			assert.Equal(t, "EMRBlockPublicAccess", resp.LogicalResourceID)
			assert.Equal(t, ev.StackID, resp.StackID)
			assert.Equal(t, []string{"https://cb.example/x"}, rec.urls)
		})
	}
}

func TestDeleteDoesNotMutate(t *testing.T) {
	api := &fakeEMR{}
	rec := &recorder{}
	r := newTestReconciler(api, rec)

	ev := baseEvent(cfn.RequestDelete)
	ev.PhysicalResourceID = "accessguard-existing"

	require.NoError(t, r.Handle(context.Background(), ev))

	assert.Equal(t, 0, api.calls())
	resp := rec.only(t)
	assert.Equal(t, cfn.StatusSuccess, resp.Status)
	assert.Equal(t, "accessguard-existing", resp.PhysicalResourceID)
}

func TestDeleteWithoutPhysicalIDStillAnswers(t *testing.T) {
	api := &fakeEMR{}
	rec := &recorder{}
	r := newTestReconciler(api, rec)

	require.NoError(t, r.Handle(context.Background(), baseEvent(cfn.RequestDelete)))

	resp := rec.only(t)
	assert.Equal(t, cfn.StatusSuccess, resp.Status)
	assert.NotEmpty(t, resp.PhysicalResourceID)
}

func TestUnknownRequestTypeFails(t *testing.T) {
	api := &fakeEMR{}
	rec := &recorder{}
	r := newTestReconciler(api, rec)

	err := r.Handle(context.Background(), baseEvent("Replace"))
	require.Error(t, err)

	var ce *ContractError
	assert.True(t, errors.As(err, &ce))
	assert.Equal(t, 0, api.calls())

	resp := rec.only(t)
	assert.Equal(t, cfn.StatusFailed, resp.Status)
	assert.Contains(t, resp.Reason, "Replace")
	assert.NotEmpty(t, resp.PhysicalResourceID)
}

func TestMutationErrorFailsAndSurfaces(t *testing.T) {
	api := &fakeEMR{putErr: &smithy.GenericAPIError{
		Code:    "AccessDeniedException",
		Message: "User is not authorized to perform: elasticmapreduce:PutBlockPublicAccessConfiguration",
	}}
	rec := &recorder{}
	r := newTestReconciler(api, rec)

	err := r.Handle(context.Background(), baseEvent(cfn.RequestCreate))
	require.Error(t, err)

	var oe *controlplane.OperationError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, "AccessDeniedException", oe.Code)

	assert.Equal(t, 1, api.calls(), "the mutation is not retried")
	resp := rec.only(t)
	assert.Equal(t, cfn.StatusFailed, resp.Status)
	assert.Contains(t, resp.Reason, "User is not authorized to perform")
	assert.Equal(t, PhysicalIDPrefix+"1", resp.PhysicalResourceID)
}

func TestInitializationErrorFailsEveryEvent(t *testing.T) {
	initErr := errors.New("failed to load AWS config: no EC2 IMDS role found")

	for _, rt := range []cfn.RequestType{cfn.RequestCreate, cfn.RequestUpdate, cfn.RequestDelete} {
		t.Run(string(rt), func(t *testing.T) {
			api := &fakeEMR{}
			rec := &recorder{}
			r := newTestReconciler(api, rec, WithInitError(initErr))

			err := r.Handle(context.Background(), baseEvent(rt))
			require.Error(t, err)

			var ie *InitializationError
			require.True(t, errors.As(err, &ie))
			assert.ErrorIs(t, err, initErr)
			assert.Equal(t, 0, api.calls())

			resp := rec.only(t)
			assert.Equal(t, cfn.StatusFailed, resp.Status)
			assert.Contains(t, resp.Reason, "no EC2 IMDS role found")
		})
	}
}

func TestInitializationErrorCitedForUnknownRequestType(t *testing.T) {
	initErr := errors.New("failed to load AWS config: no EC2 IMDS role found")
	api := &fakeEMR{}
	rec := &recorder{}
	r := newTestReconciler(api, rec, WithInitError(initErr))

	err := r.Handle(context.Background(), baseEvent("Replace"))
	require.Error(t, err)

	var ce *ContractError
	assert.True(t, errors.As(err, &ce))
	var ie *InitializationError
	assert.True(t, errors.As(err, &ie))
	assert.Equal(t, 0, api.calls())

	resp := rec.only(t)
	assert.Equal(t, cfn.StatusFailed, resp.Status)
	assert.Contains(t, resp.Reason, "Replace")
	assert.Contains(t, resp.Reason, "no EC2 IMDS role found")
}

func TestNilApplierIsInitializationError(t *testing.T) {
	rec := &recorder{}
	r := New(nil, rec, WithLogger(logging.Discard()))

	err := r.Handle(context.Background(), baseEvent(cfn.RequestCreate))

	var ie *InitializationError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, cfn.StatusFailed, rec.only(t).Status)
}

func TestCreateTwiceIsIdempotent(t *testing.T) {
	api := &fakeEMR{}
	rec := &recorder{}
	r := newTestReconciler(api, rec)

	ev := baseEvent(cfn.RequestCreate)
	require.NoError(t, r.Handle(context.Background(), ev))
	require.NoError(t, r.Handle(context.Background(), ev))

	require.Equal(t, 2, api.calls())
	first, err := json.Marshal(api.puts[0])
	require.NoError(t, err)
	second, err := json.Marshal(api.puts[1])
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.Len(t, rec.responses, 2)
	assert.Equal(t, cfn.StatusSuccess, rec.responses[0].Status)
	assert.Equal(t, cfn.StatusSuccess, rec.responses[1].Status)
}

func TestUpdatePreservesPhysicalID(t *testing.T) {
	api := &fakeEMR{}
	rec := &recorder{}
	r := newTestReconciler(api, rec)

	require.NoError(t, r.Handle(context.Background(), baseEvent(cfn.RequestCreate)))
	created := rec.responses[0].PhysicalResourceID
	assert.Equal(t, PhysicalIDPrefix+"1", created)

	ev := baseEvent(cfn.RequestUpdate)
	ev.PhysicalResourceID = created
	require.NoError(t, r.Handle(context.Background(), ev))

	assert.Equal(t, created, rec.responses[1].PhysicalResourceID)
}

func TestUpdateRegeneratesPhysicalIDWhenConfigured(t *testing.T) {
	api := &fakeEMR{}
	rec := &recorder{}
	r := newTestReconciler(api, rec, WithRegeneratedUpdateIDs(true))

	ev := baseEvent(cfn.RequestUpdate)
	ev.PhysicalResourceID = "accessguard-existing"
	require.NoError(t, r.Handle(context.Background(), ev))

	assert.Equal(t, PhysicalIDPrefix+"1", rec.only(t).PhysicalResourceID)
}

func TestUpdateWithoutPhysicalIDGetsOne(t *testing.T) {
	api := &fakeEMR{}
	rec := &recorder{}
	r := newTestReconciler(api, rec)

	require.NoError(t, r.Handle(context.Background(), baseEvent(cfn.RequestUpdate)))
	assert.Equal(t, PhysicalIDPrefix+"1", rec.only(t).PhysicalResourceID)
}

func TestPanicSendsFailedResultThenRepanics(t *testing.T) {
	rec := &recorder{}
	r := New(panickingApplier{}, rec, WithLogger(logging.Discard()))

	assert.PanicsWithValue(t, "nil map write", func() {
		_ = r.Handle(context.Background(), baseEvent(cfn.RequestCreate))
	})

	resp := rec.only(t)
	assert.Equal(t, cfn.StatusFailed, resp.Status)
	assert.Contains(t, resp.Reason, "unexpected fault: nil map write")
	assert.Nil(t, resp.Data)
	assert.NotEmpty(t, resp.PhysicalResourceID)
}

func TestMissingResponseURLCannotBeAnswered(t *testing.T) {
	api := &fakeEMR{}
	rec := &recorder{}
	r := newTestReconciler(api, rec)

	ev := baseEvent(cfn.RequestCreate)
	ev.ResponseURL = ""

	err := r.Handle(context.Background(), ev)
	var ce *ContractError
	require.True(t, errors.As(err, &ce))
	assert.Empty(t, rec.responses)
	assert.Equal(t, 0, api.calls())
}

func TestMissingRequestIDIsAnsweredFailed(t *testing.T) {
	api := &fakeEMR{}
	rec := &recorder{}
	r := newTestReconciler(api, rec)

	ev := baseEvent(cfn.RequestCreate)
	ev.RequestID = ""

	require.Error(t, r.Handle(context.Background(), ev))
	assert.Equal(t, cfn.StatusFailed, rec.only(t).Status)
	assert.Equal(t, 0, api.calls())
}

func TestDeliveryFailureIsReturned(t *testing.T) {
	api := &fakeEMR{}
	rec := &recorder{err: errors.New("callback rejected with HTTP 403")}
	r := newTestReconciler(api, rec)

	err := r.Handle(context.Background(), baseEvent(cfn.RequestCreate))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 403")
	assert.Equal(t, 1, api.calls())
}

func TestEndToEndCreate(t *testing.T) {
	var (
		mu     sync.Mutex
		paths  []string
		bodies []map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		raw, _ := io.ReadAll(req.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)

		mu.Lock()
		paths = append(paths, req.Method+" "+req.URL.Path)
		bodies = append(bodies, body)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	api := &fakeEMR{}
	transport := callback.NewTransport(
		callback.WithHTTPClient(srv.Client()),
		callback.WithRetryPolicy(&retry.Policy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}),
		callback.WithLogger(logging.Discard()),
	)
	r := New(controlplane.New(api), transport, WithLogger(logging.Discard()))

	ev := baseEvent(cfn.RequestCreate)
	ev.ResponseURL = srv.URL + "/x"
	require.NoError(t, r.Handle(context.Background(), ev))

	require.Equal(t, 1, api.calls())
	assert.True(t, policy.FromEMR(api.puts[0].BlockPublicAccessConfiguration).Equal(policy.Default()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"PUT /x"}, paths)
	require.Len(t, bodies, 1)
	assert.Equal(t, "SUCCESS", bodies[0]["Status"])
	assert.Equal(t, "req-1", bodies[0]["RequestId"])
	assert.Regexp(t, "^"+PhysicalIDPrefix, bodies[0]["PhysicalResourceId"])
}

func TestConcurrentHandlesShareNoState(t *testing.T) {
	api := &fakeEMR{}
	r := New(controlplane.New(api), callback.NewPrinter(io.Discard), WithLogger(logging.Discard()))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Handle(context.Background(), baseEvent(cfn.RequestCreate)))
		}()
	}
	wg.Wait()

	assert.Equal(t, 16, api.calls())
}
