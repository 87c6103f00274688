package domain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// TraceContext is a parsed W3C traceparent/tracestate pair.
type TraceContext struct {
	TraceID    string // 32 hex chars
	SpanID     string // 16 hex chars
	TraceFlags byte
	TraceState string
}

var traceparentRe = regexp.MustCompile(`^([0-9a-f]{2})-([0-9a-f]{32})-([0-9a-f]{16})-([0-9a-f]{2})$`)

// ParseTraceparent parses a W3C `traceparent` header value. It rejects the
// all-zero trace/span IDs the spec reserves as invalid.
func ParseTraceparent(header string) (TraceContext, bool) {
	m := traceparentRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(header)))
	if m == nil {
		return TraceContext{}, false
	}
	version, traceID, spanID, flags := m[1], m[2], m[3], m[4]
	if version == "ff" {
		return TraceContext{}, false
	}
	if traceID == strings.Repeat("0", 32) || spanID == strings.Repeat("0", 16) {
		return TraceContext{}, false
	}
	var flagByte byte
	fmt.Sscanf(flags, "%x", &flagByte)
	return TraceContext{TraceID: traceID, SpanID: spanID, TraceFlags: flagByte}, true
}

// NewTraceContext generates a fresh root trace context when no inbound
// traceparent is present.
func NewTraceContext() TraceContext {
	return TraceContext{
		TraceID:    randomHex(16),
		SpanID:     randomHex(8),
		TraceFlags: 0x01,
	}
}

// Traceparent renders the context back into a `traceparent` header value.
func (t TraceContext) Traceparent() string {
	return fmt.Sprintf("00-%s-%s-%02x", t.TraceID, t.SpanID, t.TraceFlags)
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		for i := range buf {
			buf[i] = byte(i + 1)
		}
	}
	return hex.EncodeToString(buf)
}
