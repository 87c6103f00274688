package domain

// SegmentKind distinguishes a literal path segment from a `{param}` capture.
type SegmentKind int

const (
	SegmentStatic SegmentKind = iota
	SegmentDynamic
)

// PatternSegment is one `/`-delimited token of a RoutePattern.
type PatternSegment struct {
	Kind  SegmentKind
	Value string // literal text for Static, param name for Dynamic
}

// RoutePattern is a parsed, matchable HTTP path template, e.g. "/v1/widgets/{id}".
type RoutePattern struct {
	Raw      string
	Method   string
	Segments []PatternSegment
}

// MethodDescriptor describes one discovered or overridden gRPC method and
// the HTTP surface it is exposed as.
type MethodDescriptor struct {
	Service     string // fully-qualified gRPC service name
	Method      string // gRPC method name
	HTTPMethod  string // GET/POST/PUT/DELETE
	PathPattern string // e.g. "/v1/widgets/{id}"
	RequestType string // fully-qualified proto message name
	ReplyType   string
}

// RouteEntry binds a discovered/overridden method to its serving upstream.
type RouteEntry struct {
	Upstream string
	Pattern  RoutePattern
	Method   MethodDescriptor
}

// RoutingDecision is the result of matching an inbound request against the
// current route table snapshot.
type RoutingDecision struct {
	Upstream   string
	GRPCMethod string // fully-qualified "/pkg.Service/Method"
	Entry      RouteEntry
	PathParams map[string]string
}

// UpstreamService is one gRPC backend the gateway fronts.
type UpstreamService struct {
	Name           string
	Address        string // host:port
	TLS            bool
	AutoDiscover   bool
	TimeoutDefault string // duration string, parsed at config load
}
