package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-lambda-go/cfn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpeteliu/cis545-group-project/internal/reconcile"
)

func TestBuildWithInvalidConfigAnswersFailed(t *testing.T) {
	t.Setenv("ACCESSGUARD_LOG_FORMAT", "xml")

	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := build(context.Background(), newViper())

	err := r.Handle(context.Background(), cfn.Event{
		RequestType:       cfn.RequestCreate,
		RequestID:         "req-1",
		ResponseURL:       srv.URL + "/x",
		LogicalResourceID: "EMRBlockPublicAccess",
		StackID:           "arn:aws:cloudformation:us-east-1:123456789012:stack/emr/abc",
	})
	require.Error(t, err)

	var ie *reconcile.InitializationError
	assert.True(t, errors.As(err, &ie))
	assert.Equal(t, "FAILED", body["Status"])
	assert.Contains(t, body["Reason"], "log_format")
}

func TestNewViperDefaultsToJSONLogs(t *testing.T) {
	assert.Equal(t, "json", newViper().GetString("log_format"))
}
