package discovery

import (
	"regexp"
	"strings"

	"github.com/auth-platform/api-gateway/internal/domain"
	"github.com/auth-platform/api-gateway/internal/routetable"
)

// convention maps a prefix-matched gRPC method name to an HTTP verb and path
// template. The first rule in conventions whose pattern matches wins.
type convention struct {
	name    string
	pattern *regexp.Regexp
	build   func(m []string) (httpMethod, path string)
}

var conventions = []convention{
	{
		name:    "AddChildToResource",
		pattern: regexp.MustCompile(`^Add(.+)To(.+)$`),
		build: func(m []string) (string, string) {
			child, resource := pluralize(m[1]), pluralize(m[2])
			return "POST", "/api/" + resource + "/{id}/" + child
		},
	},
	{
		name:    "RemoveChildFromResource",
		pattern: regexp.MustCompile(`^Remove(.+)From(.+)$`),
		build: func(m []string) (string, string) {
			child, resource := pluralize(m[1]), pluralize(m[2])
			return "DELETE", "/api/" + resource + "/{id}/" + child + "/{child_id}"
		},
	},
	{
		name:    "GetResource",
		pattern: regexp.MustCompile(`^Get(.+)$`),
		build: func(m []string) (string, string) {
			return "GET", "/api/" + pluralize(m[1]) + "/{id}"
		},
	},
	{
		name:    "ListResources",
		pattern: regexp.MustCompile(`^List(.+)$`),
		build: func(m []string) (string, string) {
			return "GET", "/api/" + pluralize(m[1])
		},
	},
	{
		name:    "CreateResource",
		pattern: regexp.MustCompile(`^Create(.+)$`),
		build: func(m []string) (string, string) {
			return "POST", "/api/" + pluralize(m[1])
		},
	},
	{
		name:    "UpdateResource",
		pattern: regexp.MustCompile(`^Update(.+)$`),
		build: func(m []string) (string, string) {
			return "PUT", "/api/" + pluralize(m[1]) + "/{id}"
		},
	},
	{
		name:    "DeleteResource",
		pattern: regexp.MustCompile(`^Delete(.+)$`),
		build: func(m []string) (string, string) {
			return "DELETE", "/api/" + pluralize(m[1]) + "/{id}"
		},
	},
}

// MatchConvention maps a gRPC short method name to an HTTP method and path
// template, or reports ok=false if no prefix in the convention table
// matched (the caller counts this as a skipped method).
func MatchConvention(methodName string) (httpMethod, path string, ok bool) {
	for _, c := range conventions {
		m := c.pattern.FindStringSubmatch(methodName)
		if m == nil {
			continue
		}
		httpMethod, path := c.build(m)
		return httpMethod, path, true
	}
	return "", "", false
}

var kebabBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)

// kebabCase lowercases a PascalCase/camelCase token and inserts hyphens at
// case boundaries, e.g. "UserProfile" -> "user-profile".
func kebabCase(token string) string {
	hyphenated := kebabBoundary.ReplaceAllString(token, "$1-$2")
	return strings.ToLower(hyphenated)
}

// pluralize appends "s" to the kebab-cased token. This is the naive scheme
// the convention table specifies: it does not know irregular plurals, and
// for List<Resources> methods (whose proto name already carries a plural
// English word) it will double-pluralize. That limitation is accepted as
// specified rather than patched with an irregular-plural dictionary.
func pluralize(token string) string {
	return kebabCase(token) + "s"
}

// newRouteEntry constructs a domain.RouteEntry for a discovered method,
// parsing its convention-derived path template with the shared route
// pattern parser so it matches the table's segment representation exactly.
func newRouteEntry(upstream string, desc domain.MethodDescriptor, httpMethod, path string) domain.RouteEntry {
	desc.HTTPMethod = httpMethod
	desc.PathPattern = path
	return domain.RouteEntry{
		Upstream: upstream,
		Pattern:  routetable.ParsePattern(path, httpMethod),
		Method:   desc,
	}
}
