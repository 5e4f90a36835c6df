package pipeline

import "net/http"

// Next invokes the remainder of the chain for a request.
type Next func(*http.Request) (*http.Response, error)

// Interceptor is one stage of the request pipeline. An interceptor may
// short-circuit, mutate the request, call next one or more times, or inspect
// the response on the way back out.
type Interceptor interface {
	Intercept(req *http.Request, next Next) (*http.Response, error)
}

// Chain composes interceptors over a base transport. Order is configuration:
// the first interceptor is outermost. Chain implements http.RoundTripper so
// it can back a plain *http.Client.
type Chain struct {
	interceptors []Interceptor
	base         http.RoundTripper
}

// NewChain builds a chain terminating in base.
func NewChain(base http.RoundTripper, interceptors ...Interceptor) *Chain {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Chain{interceptors: interceptors, base: base}
}

// RoundTrip executes the configured interceptors in order, ending at the
// base transport. The request is cloned once at the boundary so interceptors
// can mutate it freely without violating the http.RoundTripper contract,
// which forbids modifying the caller's request.
func (c *Chain) RoundTrip(req *http.Request) (*http.Response, error) {
	return c.proceed(0)(req.Clone(req.Context()))
}

func (c *Chain) proceed(index int) Next {
	if index >= len(c.interceptors) {
		return c.base.RoundTrip
	}
	return func(req *http.Request) (*http.Response, error) {
		return c.interceptors[index].Intercept(req, c.proceed(index+1))
	}
}
