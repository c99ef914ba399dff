package transport

import (
	"context"
	"net/http"
	"net/url"
)

// Request describes one call to the remote API.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   interface{}

	// SkipRefresh marks public endpoints where a 401 means bad
	// credentials rather than an expired session.
	SkipRefresh bool

	// NoAuth sends the request without the bearer header.
	NoAuth bool

	retried bool
}

// Retried reports whether the request is a resubmission after a refresh.
func (r *Request) Retried() bool {
	return r.retried
}

// Doer executes API requests. A non-nil out receives the decoded JSON
// response body. Non-2xx responses are returned as *models.APIError.
type Doer interface {
	Do(ctx context.Context, req *Request, out interface{}) error
}

// TokenSource supplies the bearer token for outgoing requests.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Get issues an authenticated GET.
func Get(ctx context.Context, d Doer, path string, out interface{}) error {
	return d.Do(ctx, &Request{Method: http.MethodGet, Path: path}, out)
}

// Post issues an authenticated JSON POST.
func Post(ctx context.Context, d Doer, path string, body, out interface{}) error {
	return d.Do(ctx, &Request{Method: http.MethodPost, Path: path, Body: body}, out)
}

// PostPublic issues a POST to an endpoint that needs no session.
func PostPublic(ctx context.Context, d Doer, path string, query url.Values, body, out interface{}) error {
	return d.Do(ctx, &Request{
		Method:      http.MethodPost,
		Path:        path,
		Query:       query,
		Body:        body,
		SkipRefresh: true,
	}, out)
}
