package pagecontext

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/k3a/html2text"
	"github.com/temoto/robotstxt"
	"golang.org/x/net/html"

	"github.com/docker/sidekick/pkg/config"
	"github.com/docker/sidekick/pkg/httpclient"
)

const maxBodySize = 1 << 20

var errRobotsDisallowed = errors.New("URL blocked by robots.txt")

// FetchProvider downloads the page on every call and converts HTML to markdown.
type FetchProvider struct {
	url      string
	maxChars int
	client   *http.Client
}

var _ Provider = (*FetchProvider)(nil)

type FetchOption func(*FetchProvider)

func WithMaxChars(n int) FetchOption {
	return func(p *FetchProvider) {
		p.maxChars = n
	}
}

func WithHTTPClient(c *http.Client) FetchOption {
	return func(p *FetchProvider) {
		p.client = c
	}
}

func NewFetchProvider(pageURL string, opts ...FetchOption) *FetchProvider {
	p := &FetchProvider{
		url:      pageURL,
		maxChars: config.DefaultPageMaxChars,
		client:   httpclient.NewHTTPClient(httpclient.WithTimeout(30 * time.Second)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *FetchProvider) Page(ctx context.Context) (Page, bool) {
	page, err := p.fetch(ctx)
	if err != nil {
		slog.Warn("Could not fetch page context", "url", p.url, "error", err)
		return Page{}, false
	}
	if strings.TrimSpace(page.Content) == "" {
		return Page{}, false
	}
	return page, true
}

func (p *FetchProvider) fetch(ctx context.Context) (Page, error) {
	u, err := url.Parse(p.url)
	if err != nil {
		return Page{}, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Page{}, errors.New("only HTTP and HTTPS URLs are supported")
	}

	if !p.robotsAllowed(ctx, u) {
		return Page{}, errRobotsDisallowed
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, http.NoBody)
	if err != nil {
		return Page{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/html;q=1.0, text/markdown;q=0.9, text/plain;q=0.8, */*;q=0.1")

	resp, err := p.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return Page{}, fmt.Errorf("reading response body: %w", err)
	}

	page := Page{URL: p.url}
	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		page.Title = htmlTitle(string(body))
		page.Content = htmlToMarkdown(string(body))
	} else {
		page.Content = string(body)
	}
	page.Content = truncate(strings.TrimSpace(page.Content), p.maxChars)
	return page, nil
}

// robotsAllowed follows the usual crawler rules: a missing or unreachable
// robots.txt allows the fetch, an unreadable one blocks it.
func (p *FetchProvider) robotsAllowed(ctx context.Context, target *url.URL) bool {
	robotsURL := &url.URL{Scheme: target.Scheme, Host: target.Host, Path: "/robots.txt"}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), http.NoBody)
	if err != nil {
		return true
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return true
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return true
	case resp.StatusCode != http.StatusOK:
		return false
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return false
	}
	robots, err := robotstxt.FromBytes(data)
	if err != nil {
		return false
	}
	return robots.TestAgent(target.Path, httpclient.UserAgent())
}

func htmlToMarkdown(doc string) string {
	markdown, err := htmltomarkdown.ConvertString(doc)
	if err != nil {
		slog.Debug("Falling back to plain text conversion", "error", err)
		return html2text.HTML2Text(doc)
	}
	return markdown
}

func htmlTitle(doc string) string {
	z := html.NewTokenizer(strings.NewReader(doc))
	inTitle := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			name, _ := z.TagName()
			inTitle = string(name) == "title"
		case html.TextToken:
			if inTitle {
				return strings.TrimSpace(string(z.Text()))
			}
		case html.EndTagToken:
			inTitle = false
		}
	}
}
