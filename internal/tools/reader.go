package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const maxReadURLRedirects = 10

// ReadURLTool fetches args["url"] and returns its content as simplified
// plain text.
type ReadURLTool struct{}

func (t *ReadURLTool) Name() string { return "read_url" }

func (t *ReadURLTool) Run(ctx context.Context, args map[string]string) (string, error) {
	rawURL := args["url"]
	if rawURL == "" {
		return "", fmt.Errorf("read_url: missing url")
	}
	return fetchAndSimplify(ctx, rawURL)
}

func fetchAndSimplify(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "agentd/1.0 (autonomous agent)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain")

	client := &http.Client{
		Timeout: 15 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxReadURLRedirects {
				return fmt.Errorf("stopped after %d redirects", maxReadURLRedirects)
			}
			return nil
		},
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d for %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20)) // 2MB limit
	if err != nil {
		return "", err
	}

	content := htmlToText(string(body))
	if len(content) > 8000 {
		content = content[:8000] + "\n\n[content truncated at 8000 characters]"
	}
	return content, nil
}

// htmlToText converts HTML to simplified plain text without a browser.
func htmlToText(html string) string {
	html = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`).ReplaceAllString(html, "")
	html = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`).ReplaceAllString(html, "")
	html = regexp.MustCompile(`(?s)<!--.*?-->`).ReplaceAllString(html, "")
	html = regexp.MustCompile(`(?i)</?(?:div|p|br|h[1-6]|li|tr|td|th|blockquote|pre|hr)[^>]*>`).ReplaceAllString(html, "\n")
	html = regexp.MustCompile(`<[^>]+>`).ReplaceAllString(html, "")

	html = strings.NewReplacer(
		"&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", "\"", "&#39;", "'", "&nbsp;", " ",
	).Replace(html)

	html = regexp.MustCompile(`[ \t]+`).ReplaceAllString(html, " ")
	html = regexp.MustCompile(`\n{3,}`).ReplaceAllString(html, "\n\n")
	return strings.TrimSpace(html)
}
