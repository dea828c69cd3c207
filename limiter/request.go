package limiter

// Request is the read-only view of an incoming call the controller needs.
// Transports adapt their native request type to it.
type Request interface {
	// Attribute returns a value attached by an earlier stage, such as the
	// endpoint matched by the router.
	Attribute(name string) (string, bool)
	HasHeader(name string) bool
	HeaderLine(name string) string
	// CorrelationID identifies the request in log messages.
	CorrelationID() string
}

// Resolver extracts the caller identity from a request. An empty result
// means no identity is available.
type Resolver interface {
	Resolve(req Request) string
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(req Request) string

func (f ResolverFunc) Resolve(req Request) string {
	return f(req)
}

// HeaderResolver uses the value of a designated header as the identity.
type HeaderResolver struct {
	Header string
}

func (r HeaderResolver) Resolve(req Request) string {
	if r.Header == "" || !req.HasHeader(r.Header) {
		return ""
	}
	return req.HeaderLine(r.Header)
}
