// pkg/transport/cloudstack/client.go
package cloudstack

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// maxErrorBody bounds how much of an unparseable body ends up in an error message.
const maxErrorBody = 256

// Doer is anything that can execute a CloudStack API command.
type Doer interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// Client wraps go-retryablehttp for the CloudStack query API.
// Read commands (list*, query*) are retried on transport failures and
// throttling; mutating commands are sent exactly once.
type Client struct {
	endpoint  string
	apiKey    string
	secretKey string
	reads     *retryablehttp.Client
	writes    *retryablehttp.Client
}

var _ Doer = (*Client)(nil)

// Options holds the CloudStack endpoint, credentials and HTTP tuning.
type Options struct {
	Endpoint           string
	APIKey             string
	SecretKey          string
	Timeout            time.Duration
	RetryMax           int
	InsecureSkipVerify bool
	Logger             zerolog.Logger
}

// Request is a single API command. Method defaults to GET; use POST for
// commands carrying large payloads such as user data.
type Request struct {
	Command string
	Params  url.Values
	Method  string
}

// Response is the unwrapped body of a successful API call: the object inside
// the "<command>response" envelope.
type Response struct {
	StatusCode int
	Command    string
	Body       gjson.Result
}

// ID returns the identifier the remote system assigned, for commands that return one.
func (r *Response) ID() string {
	return r.Body.Get("id").String()
}

// JobID returns the async job handle, empty for synchronous commands.
func (r *Response) JobID() string {
	return r.Body.Get("jobid").String()
}

// Accepted reports whether the command was accepted as an async job.
func (r *Response) Accepted() bool {
	return r.JobID() != ""
}

// NewClient creates a new CloudStack API client from options
func NewClient(opts Options) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	u, err := url.Parse(opts.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint %q: must be an absolute http(s) URL", opts.Endpoint)
	}
	if opts.APIKey == "" || opts.SecretKey == "" {
		return nil, fmt.Errorf("api key and secret key are required")
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}

	return &Client{
		endpoint:  opts.Endpoint,
		apiKey:    opts.APIKey,
		secretKey: opts.SecretKey,
		reads:     newHTTPClient(opts, opts.RetryMax),
		writes:    newHTTPClient(opts, 0),
	}, nil
}

var (
	transportsOnce sync.Once
	sharedSecure   *http.Transport
	sharedInsecure *http.Transport
)

// sharedTransport returns the process-wide connection pool. Clients are
// built per plugin call, so each must not own a pool of its own.
func sharedTransport(insecure bool) *http.Transport {
	transportsOnce.Do(func() {
		sharedSecure = cleanhttp.DefaultPooledTransport()
		sharedInsecure = cleanhttp.DefaultPooledTransport()
		sharedInsecure.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for lab installations
	})
	if insecure {
		return sharedInsecure
	}
	return sharedSecure
}

func newHTTPClient(opts Options, retryMax int) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.HTTPClient.Transport = sharedTransport(opts.InsecureSkipVerify)
	c.RetryMax = retryMax
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 5 * time.Second
	c.CheckRetry = checkRetry
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	c.Logger = leveledLogger{log: opts.Logger.With().Str("component", "transport").Logger()}
	c.HTTPClient.Timeout = opts.Timeout
	return c
}

// checkRetry keeps the default policy but never retries CloudStack API
// errors: the 53x range is reported through HTTP status and is deterministic.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp != nil && resp.StatusCode >= CodeInternalError && resp.StatusCode <= CodeNetworkRuleConflict {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// IsReadCommand reports whether command only reads state and is safe to retry.
func IsReadCommand(command string) bool {
	c := strings.ToLower(command)
	return strings.HasPrefix(c, "list") || strings.HasPrefix(c, "query")
}

// Do executes an API command
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if req.Command == "" {
		return nil, NewError(ErrorCodeInvalidInput, "command is required", nil)
	}

	params := url.Values{}
	for k, v := range req.Params {
		if len(v) > 0 && v[0] != "" {
			params.Set(k, v[0])
		}
	}
	params.Set("command", req.Command)
	params.Set("response", "json")
	params.Set("apiKey", c.apiKey)
	query := SignedQuery(params, c.secretKey)

	var (
		httpReq *retryablehttp.Request
		err     error
	)
	switch strings.ToUpper(req.Method) {
	case "", http.MethodGet:
		httpReq, err = retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+query, nil)
	case http.MethodPost:
		httpReq, err = retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(query))
		if err == nil {
			httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	default:
		return nil, NewError(ErrorCodeInvalidInput, fmt.Sprintf("unsupported method: %s", req.Method), nil)
	}
	if err != nil {
		return nil, NewError(ErrorCodeInvalidInput, "failed to build request", err)
	}

	httpClient := c.writes
	if IsReadCommand(req.Command) {
		httpClient = c.reads
	}

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, NewError(ErrorCodeUnknown, fmt.Sprintf("%s: %v", req.Command, err), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(ErrorCodeUnknown, fmt.Sprintf("%s: failed to read response", req.Command), err)
	}

	return parseResponse(req.Command, resp.StatusCode, raw)
}

// parseResponse unwraps the command envelope and turns error bodies into *Error
func parseResponse(command string, statusCode int, raw []byte) (*Response, error) {
	if !gjson.ValidBytes(raw) {
		code := ClassifyHTTPStatus(statusCode)
		if code == ErrorCodeNone {
			code = ErrorCodeUnknown
		}
		body := string(raw)
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &Error{
			Code:     code,
			HTTPCode: statusCode,
			Message:  fmt.Sprintf("%s: unexpected response body: %q", command, body),
		}
	}

	root := gjson.ParseBytes(raw)
	envelope := root.Get(strings.ToLower(command) + "response")
	if !envelope.Exists() {
		envelope = root.Get("errorresponse")
	}
	if !envelope.Exists() {
		envelope = root
	}

	if envelope.Get("errorcode").Exists() {
		apiCode := int(envelope.Get("errorcode").Int())
		return nil, &Error{
			Code:        ClassifyAPICode(apiCode),
			APICode:     apiCode,
			CSErrorCode: int(envelope.Get("cserrorcode").Int()),
			HTTPCode:    statusCode,
			Message:     envelope.Get("errortext").String(),
		}
	}

	if code := ClassifyHTTPStatus(statusCode); code != ErrorCodeNone {
		return nil, &Error{
			Code:     code,
			HTTPCode: statusCode,
			Message:  fmt.Sprintf("%s: unexpected HTTP status %d", command, statusCode),
		}
	}

	return &Response{
		StatusCode: statusCode,
		Command:    command,
		Body:       envelope,
	}, nil
}

// leveledLogger adapts zerolog to retryablehttp.LeveledLogger
type leveledLogger struct {
	log zerolog.Logger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Error().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Warn().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.Trace().Fields(keysAndValues).Msg(msg)
}
