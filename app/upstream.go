package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPRemote forwards reads and writes to an upstream REST API laid out as
// {base}/{resource}/ and {base}/{resource}/{id}/.
type HTTPRemote struct {
	base   *url.URL
	client *http.Client
	secret string
}

var _ RecordRemote = (*HTTPRemote)(nil)

// NewHTTPRemote builds a remote for baseURL. secret, when set, is sent as
// X-Optimist-Secret.
func NewHTTPRemote(baseURL string, timeout time.Duration, secret string) (*HTTPRemote, error) {
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing upstream url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("upstream url must be http or https, got %q", baseURL)
	}
	return &HTTPRemote{
		base:   base,
		client: &http.Client{Timeout: timeout},
		secret: secret,
	}, nil
}

// upstreamError is the problem body the upstream returns on failure.
type upstreamError struct {
	Type          string `json:"type"`
	Title         string `json:"title"`
	Detail        string `json:"detail"`
	Message       string `json:"message"`
	InvalidParams []struct {
		Name   string `json:"name"`
		Field  string `json:"field"`
		Reason string `json:"reason"`
	} `json:"invalidParams"`
}

type upstreamList struct {
	Results []json.RawMessage `json:"results"`
	Count   int               `json:"count"`
}

func (r *HTTPRemote) Fetch(ctx context.Context, resource, id string) (json.RawMessage, error) {
	var out json.RawMessage
	err := r.do(ctx, http.MethodGet, r.endpoint(nil, resource, id), nil, &out)
	return out, err
}

func (r *HTTPRemote) List(ctx context.Context, resource string, page Page) (RecordPage, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(page.Offset))
	q.Set("limit", strconv.Itoa(page.Limit))
	var list upstreamList
	if err := r.do(ctx, http.MethodGet, r.endpoint(q, resource), nil, &list); err != nil {
		return RecordPage{}, err
	}
	if list.Results == nil {
		list.Results = []json.RawMessage{}
	}
	return RecordPage{
		Resource: resource,
		Rows:     list.Results,
		Total:    list.Count,
		Offset:   page.Offset,
		Limit:    page.Limit,
	}, nil
}

func (r *HTTPRemote) Save(ctx context.Context, resource, id string, body json.RawMessage) (json.RawMessage, error) {
	var out json.RawMessage
	err := r.do(ctx, http.MethodPut, r.endpoint(nil, resource, id), body, &out)
	return out, err
}

func (r *HTTPRemote) Remove(ctx context.Context, resource, id string) error {
	return r.do(ctx, http.MethodDelete, r.endpoint(nil, resource, id), nil, nil)
}

func (r *HTTPRemote) endpoint(query url.Values, segments ...string) string {
	u := r.base.JoinPath(segments...)
	u.Path += "/"
	u.RawQuery = query.Encode()
	return u.String()
}

func (r *HTTPRemote) do(ctx context.Context, method, target string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("building upstream request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.secret != "" {
		req.Header.Set("X-Optimist-Secret", r.secret)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Classify(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Classify(err)
	}
	if resp.StatusCode >= 300 {
		return decodeUpstreamError(resp, payload)
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &RemoteError{Kind: KindInternal, Message: "upstream returned malformed JSON", Err: err}
	}
	return nil
}

func decodeUpstreamError(resp *http.Response, payload []byte) *RemoteError {
	var body upstreamError
	_ = json.Unmarshal(payload, &body)

	rerr := &RemoteError{Message: firstNonEmpty(body.Detail, body.Message, body.Title, resp.Status)}
	for _, p := range body.InvalidParams {
		rerr.Fields = append(rerr.Fields, FieldError{Field: firstNonEmpty(p.Name, p.Field), Reason: p.Reason})
	}

	switch code := resp.StatusCode; {
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		rerr.Kind = KindValidation
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		rerr.Kind = KindAuthorization
	case code == http.StatusNotFound:
		rerr.Kind = KindNotFound
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		rerr.Kind = KindTimeout
	case code == http.StatusTooManyRequests:
		rerr.Kind = KindRateLimit
		rerr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	case code >= 500:
		rerr.Kind = KindNetwork
	default:
		rerr.Kind = KindInternal
	}
	return rerr
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
