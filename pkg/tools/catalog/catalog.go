// Package catalog merges the tools of every connected server into one
// collision-free namespace and remembers where each offered name came from.
package catalog

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/docker/sidekick/pkg/tools"
)

// MaxNameLength is the longest function name model backends accept.
const MaxNameLength = 64

var invalidChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// Route identifies the server-local tool behind an offered name.
type Route struct {
	OriginalName string
	SourceURL    string
}

// Catalog is an immutable snapshot. Build a new one to pick up configuration changes.
type Catalog struct {
	tools  []tools.Tool
	routes map[string]Route
}

// Build assigns every discovered tool a unique name. Input order is preserved,
// so the first server keeps the plain name when two servers collide.
func Build(discovered []tools.Tool) *Catalog {
	c := &Catalog{
		routes: make(map[string]Route, len(discovered)),
	}

	for _, t := range discovered {
		name := c.uniqueName(t)

		offered := t
		offered.Name = name
		if t.SourceName != "" {
			offered.Description = withHint(t.Description, t.SourceName)
		}

		c.tools = append(c.tools, offered)
		c.routes[name] = Route{OriginalName: t.Name, SourceURL: t.Source}
	}

	return c
}

func (c *Catalog) uniqueName(t tools.Tool) string {
	candidate := t.Name
	if t.SourceName != "" {
		candidate = t.SourceName + "_" + t.Name
	}
	candidate = Sanitize(candidate)
	if c.free(candidate) {
		return candidate
	}

	if host := hostPrefix(t.Source); host != "" {
		candidate = Sanitize(host + "_" + candidate)
		if c.free(candidate) {
			return candidate
		}
	}

	for i := 2; ; i++ {
		suffix := fmt.Sprintf("_%d", i)
		next := truncate(candidate, MaxNameLength-len(suffix)) + suffix
		if c.free(next) {
			return next
		}
	}
}

func (c *Catalog) free(name string) bool {
	_, taken := c.routes[name]
	return !taken
}

// Tools returns the tools as offered to the model.
func (c *Catalog) Tools() []tools.Tool {
	return c.tools
}

func (c *Catalog) Len() int {
	return len(c.tools)
}

// Resolve maps an offered name back to its server-local name and source.
func (c *Catalog) Resolve(name string) (Route, bool) {
	r, ok := c.routes[name]
	return r, ok
}

// Sanitize replaces characters outside [a-zA-Z0-9_-] and caps the length.
func Sanitize(name string) string {
	s := invalidChars.ReplaceAllString(name, "_")
	if s == "" {
		s = "tool"
	}
	return truncate(s, MaxNameLength)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func hostPrefix(source string) string {
	u, err := url.Parse(source)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ReplaceAll(u.Host, ".", "_")
}

func withHint(description, serverName string) string {
	hint := "Provided by " + serverName
	if description == "" {
		return hint
	}
	return description + " (" + hint + ")"
}
