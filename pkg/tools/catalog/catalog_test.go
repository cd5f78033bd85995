package catalog

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/sidekick/pkg/tools"
)

var validName = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func TestBuild_DisplayNamesDisambiguate(t *testing.T) {
	c := Build([]tools.Tool{
		{Name: "search", Description: "Search files", Source: "http://files.local/mcp", SourceName: "Files"},
		{Name: "search", Description: "Search the web", Source: "http://web.local/mcp", SourceName: "Web"},
	})

	require.Equal(t, 2, c.Len())
	assert.Equal(t, "Files_search", c.Tools()[0].Name)
	assert.Equal(t, "Web_search", c.Tools()[1].Name)
	assert.Equal(t, "Search files (Provided by Files)", c.Tools()[0].Description)

	r, ok := c.Resolve("Files_search")
	require.True(t, ok)
	assert.Equal(t, Route{OriginalName: "search", SourceURL: "http://files.local/mcp"}, r)

	r, ok = c.Resolve("Web_search")
	require.True(t, ok)
	assert.Equal(t, Route{OriginalName: "search", SourceURL: "http://web.local/mcp"}, r)
}

func TestBuild_CollisionWithoutDisplayNames(t *testing.T) {
	c := Build([]tools.Tool{
		{Name: "search", Source: "http://a.example.com/mcp"},
		{Name: "search", Source: "http://b.example.com/mcp"},
		{Name: "search", Source: "http://b.example.com/mcp"},
	})

	names := []string{c.Tools()[0].Name, c.Tools()[1].Name, c.Tools()[2].Name}
	assert.Equal(t, []string{"search", "b_example_com_search", "b_example_com_search_2"}, names)
	assert.Empty(t, c.Tools()[0].Description)
}

func TestBuild_SanitizesNames(t *testing.T) {
	c := Build([]tools.Tool{
		{Name: "read.file", Source: "http://x/mcp", SourceName: "My Files!"},
		{Name: "héllo wörld", Source: "http://y/mcp"},
		{Name: "", Source: "http://z/mcp"},
	})

	assert.Equal(t, "My_Files__read_file", c.Tools()[0].Name)
	assert.Equal(t, "h_llo_w_rld", c.Tools()[1].Name)
	assert.Equal(t, "tool", c.Tools()[2].Name)
}

func TestBuild_LongNamesStayUniqueAndBounded(t *testing.T) {
	long := strings.Repeat("x", 100)
	c := Build([]tools.Tool{
		{Name: long, Source: "http://a/mcp"},
		{Name: long, Source: "http://a/mcp"},
	})

	require.Equal(t, 2, c.Len())
	for _, tool := range c.Tools() {
		assert.LessOrEqual(t, len(tool.Name), MaxNameLength)
	}
	assert.NotEqual(t, c.Tools()[0].Name, c.Tools()[1].Name)
}

func TestBuild_NamesValidUniqueAndRoundTrip(t *testing.T) {
	var discovered []tools.Tool
	for _, server := range []struct{ url, name string }{
		{"http://one.test/mcp", "Files"},
		{"http://two.test/mcp", ""},
		{"http://three.test/mcp", "Files"},
		{"http://four.test/mcp", "we b/2"},
	} {
		for _, name := range []string{"search", "read:file", "search", "a b"} {
			discovered = append(discovered, tools.Tool{Name: name, Source: server.url, SourceName: server.name})
		}
	}

	c := Build(discovered)
	require.Equal(t, len(discovered), c.Len())

	seen := map[string]bool{}
	for i, tool := range c.Tools() {
		assert.Regexp(t, validName, tool.Name)
		assert.False(t, seen[tool.Name], "duplicate name %q", tool.Name)
		seen[tool.Name] = true

		r, ok := c.Resolve(tool.Name)
		require.True(t, ok)
		assert.Equal(t, discovered[i].Name, r.OriginalName)
		assert.Equal(t, discovered[i].Source, r.SourceURL)
	}
}

func TestResolve_Unknown(t *testing.T) {
	c := Build(nil)
	_, ok := c.Resolve("missing")
	assert.False(t, ok)
	assert.Empty(t, c.Tools())
}
