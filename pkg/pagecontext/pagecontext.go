// Package pagecontext supplies the page the user is looking at, so it can be
// sent to the model as extra context.
package pagecontext

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/sidekick/pkg/config"
)

// Page is the active page. Content is plain text or markdown.
type Page struct {
	URL     string
	Title   string
	Content string
}

// Provider returns the active page, or false when there is none. Failures
// are reported as no page.
type Provider interface {
	Page(ctx context.Context) (Page, bool)
}

// Static always returns the same page.
type Static struct {
	page Page
}

func NewStatic(page Page, maxChars int) *Static {
	page.Content = truncate(page.Content, maxChars)
	return &Static{page: page}
}

func (s *Static) Page(context.Context) (Page, bool) {
	if strings.TrimSpace(s.page.Content) == "" {
		return Page{}, false
	}
	return s.page, true
}

// FromConfig builds the provider described by the settings, or returns nil.
func FromConfig(cfg *config.PageContext) Provider {
	if cfg == nil {
		return nil
	}

	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = config.DefaultPageMaxChars
	}

	if cfg.URL != "" {
		return NewFetchProvider(cfg.URL, WithMaxChars(maxChars))
	}
	return NewStatic(Page{Title: cfg.Title, Content: cfg.Content}, maxChars)
}

// SystemPrompt renders a page as the body of a system message.
func SystemPrompt(p Page) string {
	var sb strings.Builder
	sb.WriteString("The user is viewing the following page. Use it to answer when relevant.\n")
	if p.Title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", p.Title)
	}
	if p.URL != "" {
		fmt.Fprintf(&sb, "URL: %s\n", p.URL)
	}
	sb.WriteString("\n<page_content>\n")
	sb.WriteString(p.Content)
	sb.WriteString("\n</page_content>")
	return sb.String()
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == maxChars {
			return s[:i]
		}
		n++
	}
	return s
}
