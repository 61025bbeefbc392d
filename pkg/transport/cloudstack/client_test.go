// pkg/transport/cloudstack/client_test.go
package cloudstack

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAPIKey    = "test-api-key"
	testSecretKey = "test-secret-key"
)

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	c, err := NewClient(Options{
		Endpoint:  endpoint,
		APIKey:    testAPIKey,
		SecretKey: testSecretKey,
		RetryMax:  2,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	return c
}

// verifySignature checks the request the way the management server does.
func verifySignature(t *testing.T, params url.Values) {
	t.Helper()
	signature := params.Get("signature")
	require.NotEmpty(t, signature, "request must be signed")
	unsigned := url.Values{}
	for k, v := range params {
		if k != "signature" {
			unsigned[k] = v
		}
	}
	assert.Equal(t, Sign(EncodeParams(unsigned), testSecretKey), signature)
}

func TestNewClient_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"missing endpoint", Options{APIKey: "k", SecretKey: "s"}},
		{"relative endpoint", Options{Endpoint: "/client/api", APIKey: "k", SecretKey: "s"}},
		{"unsupported scheme", Options{Endpoint: "ftp://cloud/client/api", APIKey: "k", SecretKey: "s"}},
		{"missing api key", Options{Endpoint: "https://cloud/client/api", SecretKey: "s"}},
		{"missing secret", Options{Endpoint: "https://cloud/client/api", APIKey: "k"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.opts)
			assert.Error(t, err)
			assert.Nil(t, c)
		})
	}
}

func TestDo_SignsAndUnwrapsEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "listVirtualMachines", q.Get("command"))
		assert.Equal(t, "json", q.Get("response"))
		assert.Equal(t, testAPIKey, q.Get("apiKey"))
		assert.Equal(t, "vm-1", q.Get("id"))
		verifySignature(t, q)

		_, _ = w.Write([]byte(`{"listvirtualmachinesresponse":{"count":1,"virtualmachine":[{"id":"vm-1","state":"Running"}]}}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(t, srv.URL).Do(context.Background(), Request{
		Command: "listVirtualMachines",
		Params:  url.Values{"id": {"vm-1"}},
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Running", resp.Body.Get("virtualmachine.0.state").String())
	assert.False(t, resp.Accepted())
}

func TestDo_AsyncCommandReturnsJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"deployvirtualmachineresponse":{"id":"vm-9","jobid":"job-9"}}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(t, srv.URL).Do(context.Background(), Request{Command: "deployVirtualMachine"})

	require.NoError(t, err)
	assert.Equal(t, "vm-9", resp.ID())
	assert.Equal(t, "job-9", resp.JobID())
	assert.True(t, resp.Accepted())
}

func TestDo_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(CodeParamError)
		_, _ = w.Write([]byte(`{"listsecuritygroupsresponse":{"uuidList":[],"errorcode":431,"cserrorcode":4350,"errortext":"Unable to find security group by id"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Do(context.Background(), Request{Command: "listSecurityGroups"})

	require.Error(t, err)
	var csErr *Error
	require.ErrorAs(t, err, &csErr)
	assert.Equal(t, CodeParamError, csErr.APICode)
	assert.Equal(t, 4350, csErr.CSErrorCode)
	assert.Equal(t, ErrorCodeInvalidInput, csErr.Code)
	assert.Equal(t, "Unable to find security group by id", csErr.Message)
}

func TestDo_ErrorResponseEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(CodeUnauthorized)
		_, _ = w.Write([]byte(`{"errorresponse":{"errorcode":401,"errortext":"unable to verify user credentials"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Do(context.Background(), Request{Command: "listZones"})

	code, ok := APICode(err)
	require.True(t, ok)
	assert.Equal(t, CodeUnauthorized, code)
}

func TestDo_PostSendsFormBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		assert.Empty(t, r.URL.RawQuery, "parameters travel in the body")
		assert.Equal(t, "IyEvYmluL3NoCmVjaG8gaGk=", r.PostForm.Get("userdata"))
		verifySignature(t, r.PostForm)
		_, _ = w.Write([]byte(`{"deployvirtualmachineresponse":{"id":"vm-1","jobid":"job-1"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Do(context.Background(), Request{
		Command: "deployVirtualMachine",
		Method:  http.MethodPost,
		Params:  url.Values{"userdata": {"IyEvYmluL3NoCmVjaG8gaGk="}},
	})

	require.NoError(t, err)
}

func TestDo_RetriesReadsOnly(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"listzonesresponse":{},"createnetworkresponse":{"network":{"id":"n-1"}}}`))
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	_, err := c.Do(context.Background(), Request{Command: "listZones"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "read is retried after 503")

	calls.Store(0)
	_, err = c.Do(context.Background(), Request{Command: "createNetwork"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "mutation is sent once")
}

func TestDo_DoesNotRetryAPIErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(CodeInternalError)
		_, _ = w.Write([]byte(`{"listnetworksresponse":{"errorcode":530,"errortext":"internal error"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Do(context.Background(), Request{Command: "listNetworks"})

	code, ok := APICode(err)
	require.True(t, ok)
	assert.Equal(t, CodeInternalError, code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_InvalidBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`<html>bad gateway</html>`))
	}))
	defer srv.Close()

	c, err := NewClient(Options{Endpoint: srv.URL, APIKey: "k", SecretKey: "s", Logger: zerolog.Nop()})
	require.NoError(t, err)
	_, err = c.Do(context.Background(), Request{Command: "deleteVPC"})

	var csErr *Error
	require.ErrorAs(t, err, &csErr)
	assert.Equal(t, ErrorCodeUnavailable, csErr.Code)
	assert.Equal(t, http.StatusBadGateway, csErr.HTTPCode)
}

func TestDo_RequiresCommand(t *testing.T) {
	c := newTestClient(t, "https://cloud.example.com/client/api")

	_, err := c.Do(context.Background(), Request{})

	var csErr *Error
	require.ErrorAs(t, err, &csErr)
	assert.Equal(t, ErrorCodeInvalidInput, csErr.Code)
}

func TestIsReadCommand(t *testing.T) {
	assert.True(t, IsReadCommand("listVirtualMachines"))
	assert.True(t, IsReadCommand("queryAsyncJobResult"))
	assert.False(t, IsReadCommand("deployVirtualMachine"))
	assert.False(t, IsReadCommand("deleteSecurityGroup"))
}

func TestNewClient_SharesConnectionPool(t *testing.T) {
	a := newTestClient(t, "https://cloud.example.com/client/api")
	b := newTestClient(t, "https://other.example.com/client/api")

	assert.Same(t, a.reads.HTTPClient.Transport, b.reads.HTTPClient.Transport)
	assert.Same(t, a.reads.HTTPClient.Transport, a.writes.HTTPClient.Transport)

	insecure, err := NewClient(Options{
		Endpoint:           "https://lab.example.com/client/api",
		APIKey:             testAPIKey,
		SecretKey:          testSecretKey,
		InsecureSkipVerify: true,
		Logger:             zerolog.Nop(),
	})
	require.NoError(t, err)
	assert.NotSame(t, a.reads.HTTPClient.Transport, insecure.reads.HTTPClient.Transport)
	assert.Same(t, sharedTransport(true), insecure.writes.HTTPClient.Transport)
}

func TestNewClient_PerCallClientsDoNotLeakConnections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"listzonesresponse":{"count":0}}`))
	}))
	defer srv.Close()

	call := func() {
		c := newTestClient(t, srv.URL)
		_, err := c.Do(context.Background(), Request{Command: "listZones"})
		require.NoError(t, err)
	}
	call()
	before := runtime.NumGoroutine()

	for i := 0; i < 50; i++ {
		call()
	}

	assert.LessOrEqual(t, runtime.NumGoroutine(), before+5)
}
