// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/AleutianAI/AleutianLogAssist/services/orchestrator/datatypes"
)

const defaultDuckDuckGoURL = "https://html.duckduckgo.com/html/"

// DuckDuckGoProvider scrapes the DuckDuckGo HTML endpoint.
//
// # Description
//
// Each result becomes evidence whose Content is "title: snippet" and whose
// URL is the target page. No API key is needed.
//
// # Limitations
//
//   - Parsing depends on DuckDuckGo's markup and may break silently; the
//     provider then returns no results.
type DuckDuckGoProvider struct {
	BaseURL   string
	UserAgent string
	Client    *http.Client
}

// NewDuckDuckGoProvider returns a provider with a bounded HTTP client.
func NewDuckDuckGoProvider(baseURL string, timeout time.Duration) *DuckDuckGoProvider {
	if baseURL == "" {
		baseURL = defaultDuckDuckGoURL
	}
	return &DuckDuckGoProvider{
		BaseURL:   baseURL,
		UserAgent: "Mozilla/5.0 (compatible; AleutianLogAssist/1.0)",
		Client:    &http.Client{Timeout: timeout},
	}
}

func (p *DuckDuckGoProvider) Name() string { return "duckduckgo" }

func (p *DuckDuckGoProvider) Search(ctx context.Context, query string, topK int) ([]datatypes.Evidence, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.UserAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("web search: HTTP %d", resp.StatusCode)
	}

	return parseDuckDuckGo(io.LimitReader(resp.Body, 5<<20), topK)
}

// parseDuckDuckGo reads the result list. Link, title and snippet are taken
// from the same result container, so a result without a snippet keeps only
// its title.
func parseDuckDuckGo(r io.Reader, topK int) ([]datatypes.Evidence, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse web search page: %w", err)
	}

	out := []datatypes.Evidence{}
	for _, link := range findByClass(doc, "result__a", 0) {
		if len(out) >= topK {
			break
		}
		target := resolveDuckDuckGoURL(attrValue(link, "href"))
		title := textContent(link)
		if target == "" || title == "" {
			continue
		}
		content := title
		if box := resultContainer(link); box != nil {
			if snippets := findByClass(box, "result__snippet", 1); len(snippets) == 1 {
				if s := textContent(snippets[0]); s != "" {
					content = title + ": " + s
				}
			}
		}
		out = append(out, datatypes.Evidence{Content: content, Source: datatypes.SourceWeb, URL: target})
	}
	return out, nil
}

// resolveDuckDuckGoURL unwraps the /l/?uddg= redirect links.
func resolveDuckDuckGoURL(raw string) string {
	if strings.Contains(raw, "uddg=") {
		if strings.HasPrefix(raw, "//") {
			raw = "https:" + raw
		}
		if u, err := url.Parse(raw); err == nil {
			if target := u.Query().Get("uddg"); target != "" {
				return target
			}
		}
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	return ""
}

// resultContainer returns the nearest ancestor holding one result, or nil.
func resultContainer(n *html.Node) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if hasClass(p, "result") || hasClass(p, "result__body") {
			return p
		}
	}
	return nil
}

// findByClass walks n depth-first. limit <= 0 means no limit.
func findByClass(n *html.Node, class string, limit int) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node) bool
	walk = func(c *html.Node) bool {
		if c.Type == html.ElementNode && hasClass(c, class) {
			out = append(out, c)
			if limit > 0 && len(out) >= limit {
				return false
			}
		}
		for child := c.FirstChild; child != nil; child = child.NextSibling {
			if !walk(child) {
				return false
			}
		}
		return true
	}
	walk(n)
	return out
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attrValue(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// textContent joins the text below n with single spaces.
func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
			sb.WriteByte(' ')
		}
		for child := c.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
