package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchConvention_CoversEveryPrefixInPriorityOrder(t *testing.T) {
	cases := []struct {
		method     string
		httpMethod string
		path       string
	}{
		{"GetWidget", "GET", "/api/widgets/{id}"},
		{"ListWidget", "GET", "/api/widgets"},
		{"CreateWidget", "POST", "/api/widgets"},
		{"UpdateWidget", "PUT", "/api/widgets/{id}"},
		{"DeleteWidget", "DELETE", "/api/widgets/{id}"},
		{"AddTagToWidget", "POST", "/api/widgets/{id}/tags"},
		{"RemoveTagFromWidget", "DELETE", "/api/widgets/{id}/tags/{child_id}"},
	}

	for _, c := range cases {
		httpMethod, path, ok := MatchConvention(c.method)
		require.True(t, ok, "method %s should match a convention", c.method)
		assert.Equal(t, c.httpMethod, httpMethod, "method %s", c.method)
		assert.Equal(t, c.path, path, "method %s", c.method)
	}
}

func TestMatchConvention_NoMatchForUnconventionalName(t *testing.T) {
	_, _, ok := MatchConvention("Ping")
	assert.False(t, ok)
}

func TestMatchConvention_AddCheckedBeforeLooserPrefixes(t *testing.T) {
	// "AddTagToWidget" must never fall through to a Get/List/etc rule just
	// because it doesn't start with those exact prefixes.
	httpMethod, _, ok := MatchConvention("AddTagToWidget")
	require.True(t, ok)
	assert.Equal(t, "POST", httpMethod)
}

func TestKebabCase_InsertsHyphensAtCaseBoundaries(t *testing.T) {
	assert.Equal(t, "user-profile", kebabCase("UserProfile"))
	assert.Equal(t, "widget", kebabCase("Widget"))
}

func TestPluralize_AppendsSNaively(t *testing.T) {
	assert.Equal(t, "widgets", pluralize("Widget"))
	// Documented naive limitation: List<Resources> methods already carry a
	// plural noun, so the naive suffix double-pluralizes it.
	assert.Equal(t, "widgetss", pluralize("Widgets"))
}
