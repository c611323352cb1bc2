package authclient

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"daypack.app/internal/ids"
)

const (
	defaultCSRFHeader = "X-CSRF-Token"
	requestIDHeader   = "X-Request-Id"

	// csrfRejectedCode is the discriminator the backend puts into 403 bodies
	// when the token (not the session) is what failed. A 403 without it is a
	// genuine authorization failure and passes through untouched.
	csrfRejectedCode = "csrf_rejected"

	rejectionPeekLimit = 64 << 10
)

// Sender attaches credentials and CSRF tokens to outgoing requests. Safe
// methods pass through with cookies only; mutating methods get a token from
// the Acquirer and, on a stale-token rejection, exactly one forced
// refresh-and-retry.
type Sender struct {
	client *http.Client
	tokens *Acquirer
	header string
}

// SenderOption configures a Sender.
type SenderOption func(*Sender)

// WithCSRFHeader overrides the header name the token is sent in.
func WithCSRFHeader(name string) SenderOption {
	return func(s *Sender) {
		if name != "" {
			s.header = name
		}
	}
}

// NewSender builds a Sender over client and tokens. The client must carry the
// same cookie jar the Acquirer observes, so session cookies ride along
// automatically.
func NewSender(client *http.Client, tokens *Acquirer, opts ...SenderOption) *Sender {
	if client == nil {
		client = http.DefaultClient
	}
	s := &Sender{client: client, tokens: tokens, header: defaultCSRFHeader}
	for _, opt := range opts {
		opt(s)
	}
	registerClientMetrics()
	return s
}

// Do sends the request with authentication applied. Mutating requests that
// fail with a stale-token 403 are retried once after a forced token refresh;
// a second rejection surfaces as AuthRejectedError. Domain errors of any
// other shape pass through untouched.
func (s *Sender) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get(requestIDHeader) == "" {
		req.Header.Set(requestIDHeader, ids.New())
	}

	if isSafeMethod(req.Method) {
		resp, err := s.client.Do(req)
		observeSend(req.Method, resp, err)
		return resp, err
	}

	// The body must be replayable for the one-shot retry.
	if err := bufferBody(req); err != nil {
		return nil, err
	}

	token, err := s.tokens.EnsureToken(req.Context())
	if err != nil {
		return nil, err
	}
	req.Header.Set(s.header, token)

	resp, err := s.client.Do(req)
	observeSend(req.Method, resp, err)
	if err != nil {
		return nil, err
	}

	rejected, _ := tokenRejected(resp)
	if !rejected {
		return resp, nil
	}
	drain(resp)
	csrfRetries.Inc()

	token, err = s.tokens.ForceRefresh(req.Context())
	if err != nil {
		return nil, err
	}
	retry, err := cloneRequest(req)
	if err != nil {
		return nil, err
	}
	retry.Header.Set(s.header, token)

	resp, err = s.client.Do(retry)
	observeSend(req.Method, resp, err)
	if err != nil {
		return nil, err
	}
	if rejected, msg := tokenRejected(resp); rejected {
		status := resp.StatusCode
		drain(resp)
		return nil, &AuthRejectedError{Status: status, Message: msg}
	}
	return resp, nil
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

// bufferBody makes req.Body replayable by capturing it and installing GetBody.
func bufferBody(req *http.Request) error {
	if req.Body == nil || req.GetBody != nil {
		return nil
	}
	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return err
	}
	req.Body = io.NopCloser(bytes.NewReader(data))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	req.ContentLength = int64(len(data))
	return nil
}

func cloneRequest(req *http.Request) (*http.Request, error) {
	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	return retry, nil
}

// tokenRejected inspects a response for the stale-token discriminator. The
// body is peeked and restored so non-rejection 403s stay readable by callers.
func tokenRejected(resp *http.Response) (bool, string) {
	if resp.StatusCode != http.StatusForbidden {
		return false, ""
	}
	peeked, err := io.ReadAll(io.LimitReader(resp.Body, rejectionPeekLimit))
	if err != nil {
		resp.Body = io.NopCloser(bytes.NewReader(peeked))
		return false, ""
	}
	resp.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(peeked), resp.Body), resp.Body}

	var payload struct {
		Code   string `json:"code"`
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(peeked, &payload); err != nil {
		return false, ""
	}
	if payload.Code == csrfRejectedCode {
		return true, firstNonEmpty(payload.Error, payload.Detail)
	}
	// Tolerance for backends that signal the condition in prose only.
	if strings.Contains(strings.ToLower(payload.Error+payload.Detail), "csrf") {
		return true, firstNonEmpty(payload.Error, payload.Detail)
	}
	return false, ""
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, rejectionPeekLimit))
	_ = resp.Body.Close()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func observeSend(method string, resp *http.Response, err error) {
	class := "error"
	if err == nil && resp != nil {
		class = statusClass(resp.StatusCode)
	}
	sendsTotal.WithLabelValues(method, class).Inc()
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
