// Package routetable holds the gateway's route table: an immutable
// snapshot of domain.RouteEntry values, installed atomically by the
// control loop and matched against on every request without taking a
// lock.
package routetable

import (
	"strings"
	"sync/atomic"

	"github.com/auth-platform/api-gateway/internal/domain"
)

// ParsePattern parses a path template into a domain.RoutePattern. Dynamic
// segments may be written either `:name` (the original_source convention)
// or `{name}` (the convention discovery emits and domain.MethodDescriptor
// documents); both are accepted so manual overrides can use either spelling.
func ParsePattern(path, method string) domain.RoutePattern {
	parts := strings.Split(path, "/")
	segments := make([]domain.PatternSegment, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		if name, ok := dynamicName(p); ok {
			segments = append(segments, domain.PatternSegment{Kind: domain.SegmentDynamic, Value: name})
		} else {
			segments = append(segments, domain.PatternSegment{Kind: domain.SegmentStatic, Value: p})
		}
	}
	return domain.RoutePattern{Raw: path, Method: strings.ToUpper(method), Segments: segments}
}

func dynamicName(segment string) (string, bool) {
	if strings.HasPrefix(segment, ":") && len(segment) > 1 {
		return segment[1:], true
	}
	if strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}") && len(segment) > 2 {
		return segment[1 : len(segment)-1], true
	}
	return "", false
}

// dynamicCount returns how many segments of p are dynamic, used to rank
// candidates by the static-before-dynamic priority rule.
func dynamicCount(p domain.RoutePattern) int {
	n := 0
	for _, s := range p.Segments {
		if s.Kind == domain.SegmentDynamic {
			n++
		}
	}
	return n
}

// matches reports whether path segments satisfy p, returning the captured
// dynamic params on success.
func matches(p domain.RoutePattern, pathSegments []string) (map[string]string, bool) {
	if len(p.Segments) != len(pathSegments) {
		return nil, false
	}
	params := make(map[string]string, dynamicCount(p))
	for i, seg := range p.Segments {
		switch seg.Kind {
		case domain.SegmentStatic:
			if seg.Value != pathSegments[i] {
				return nil, false
			}
		case domain.SegmentDynamic:
			if pathSegments[i] == "" {
				return nil, false
			}
			params[seg.Value] = pathSegments[i]
		}
	}
	return params, true
}

// tokenize splits a request path on '/', discarding leading/trailing
// empty segments.
func tokenize(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// literalKey renders a pattern into the (method, literalized-pattern) key
// used for duplicate detection: dynamic segments are normalized to "*" so
// two patterns that differ only in parameter names still collide.
func literalKey(p domain.RoutePattern) string {
	var b strings.Builder
	b.WriteString(p.Method)
	b.WriteByte('|')
	for _, seg := range p.Segments {
		b.WriteByte('/')
		if seg.Kind == domain.SegmentDynamic {
			b.WriteByte('*')
		} else {
			b.WriteString(seg.Value)
		}
	}
	return b.String()
}

// DedupMode controls how BuildTable handles entries that share a
// (method, literalized-pattern) key.
type DedupMode int

const (
	// DedupLenient keeps the first entry for a colliding key and logs the
	// rest as dropped. This is the mode the control loop uses after
	// discovery, since overrides are inserted ahead of discovered routes.
	DedupLenient DedupMode = iota
	// DedupStrict rejects the whole batch if any collision is found.
	DedupStrict
)

// Table is an immutable, matchable snapshot of route entries.
type Table struct {
	entries []domain.RouteEntry
}

// BuildResult reports what happened while constructing a Table, so the
// control loop and the admin refresh endpoint can report counts.
type BuildResult struct {
	Table    *Table
	Dropped  []DroppedEntry
	Rejected bool // true only for DedupStrict when a collision was found
}

// DroppedEntry records one entry removed by lenient dedup.
type DroppedEntry struct {
	Key   string
	Entry domain.RouteEntry
}

// BuildTable constructs a Table from entries in insertion-order priority:
// callers must place manual overrides ahead of discovered routes in the
// slice so that first-wins dedup also makes overrides win.
func BuildTable(entries []domain.RouteEntry, mode DedupMode) BuildResult {
	seen := make(map[string]struct{}, len(entries))
	kept := make([]domain.RouteEntry, 0, len(entries))
	var dropped []DroppedEntry

	for _, e := range entries {
		key := literalKey(e.Pattern)
		if _, exists := seen[key]; exists {
			if mode == DedupStrict {
				return BuildResult{Rejected: true, Dropped: []DroppedEntry{{Key: key, Entry: e}}}
			}
			dropped = append(dropped, DroppedEntry{Key: key, Entry: e})
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, e)
	}

	return BuildResult{Table: &Table{entries: kept}, Dropped: dropped}
}

// Match resolves (method, path) to a RoutingDecision following the
// static-before-dynamic, insertion-order-tiebreak rule: among entries with
// the same segment count and HTTP method, the candidate with fewer dynamic
// positions wins; ties keep the first (earliest-inserted) match.
func (t *Table) Match(method, path string) (domain.RoutingDecision, error) {
	method = strings.ToUpper(method)
	segments := tokenize(path)

	bestIdx := -1
	var bestParams map[string]string
	bestDynamic := -1

	for i, e := range t.entries {
		if e.Pattern.Method != method {
			continue
		}
		params, ok := matches(e.Pattern, segments)
		if !ok {
			continue
		}
		dyn := dynamicCount(e.Pattern)
		if bestIdx == -1 || dyn < bestDynamic {
			bestIdx, bestParams, bestDynamic = i, params, dyn
		}
	}

	if bestIdx == -1 {
		return domain.RoutingDecision{}, domain.NewRouteNotFoundError(method, path)
	}

	entry := t.entries[bestIdx]
	return domain.RoutingDecision{
		Upstream:   entry.Upstream,
		GRPCMethod: "/" + entry.Method.Service + "/" + entry.Method.Method,
		Entry:      entry,
		PathParams: bestParams,
	}, nil
}

// Entries returns a copy of the table's entries, used by the admin
// endpoint and /docs stub to report the discovered route set.
func (t *Table) Entries() []domain.RouteEntry {
	out := make([]domain.RouteEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len reports the number of entries in the snapshot.
func (t *Table) Len() int { return len(t.entries) }

// Snapshot holds the currently-installed Table behind a lock-free atomic
// pointer, so readers never block on the control loop's swap.
type Snapshot struct {
	current atomic.Pointer[Table]
}

// NewSnapshot creates a Snapshot holding an empty table.
func NewSnapshot() *Snapshot {
	s := &Snapshot{}
	s.Store(&Table{})
	return s
}

// Load returns the currently-installed table.
func (s *Snapshot) Load() *Table {
	return s.current.Load()
}

// Store atomically installs a new table. In-flight Match calls against the
// prior table, already Load'ed, complete unaffected.
func (s *Snapshot) Store(t *Table) {
	s.current.Store(t)
}
