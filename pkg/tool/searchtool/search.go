// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package searchtool provides a web search tool backed by DuckDuckGo's HTML
// endpoint. It needs no API key.
package searchtool

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/kadirpekel/pmcrew/pkg/httpclient"
	"github.com/kadirpekel/pmcrew/pkg/tool"
)

const (
	DefaultEndpoint = "https://html.duckduckgo.com/html/"
	ToolName        = "duckduckgo_search"

	userAgent    = "Mozilla/5.0 (compatible; pmcrew/1.0)"
	maxBodyBytes = 2 << 20
)

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Config configures the search tool.
type Config struct {
	// Endpoint of the HTML search interface.
	// Default: DefaultEndpoint
	Endpoint string

	// MaxResults caps the results returned per query.
	// Default: 5
	MaxResults int

	// Region is the kl parameter (e.g. "br-pt"). Default: "wt-wt".
	Region string

	// Timeout bounds a single request. Default: 15s.
	Timeout time.Duration

	// HTTPClient overrides the underlying client.
	HTTPClient *http.Client
}

// SearchTool searches the web.
type SearchTool struct {
	endpoint   string
	maxResults int
	region     string
	client     *httpclient.Client
}

// New creates a search tool.
func New(cfg Config) *SearchTool {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if cfg.Region == "" {
		cfg.Region = "wt-wt"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &SearchTool{
		endpoint:   cfg.Endpoint,
		maxResults: cfg.MaxResults,
		region:     cfg.Region,
		client: httpclient.New(
			httpclient.WithHTTPClient(cfg.HTTPClient),
			httpclient.WithMaxRetries(2),
			httpclient.WithBaseDelay(time.Second),
		),
	}
}

// Name returns the tool name.
func (t *SearchTool) Name() string {
	return ToolName
}

// Description returns the tool description.
func (t *SearchTool) Description() string {
	return "Search the web with DuckDuckGo. Useful to look up current information, " +
		"market references, regulations or practices relevant to the project. " +
		"Input is a search query."
}

// Schema returns the JSON schema for parameters.
func (t *SearchTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query",
			},
		},
		"required": []string{"query"},
	}
}

// Call executes the search.
func (t *SearchTool) Call(ctx context.Context, args map[string]any) (map[string]any, error) {
	query, _ := args["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query parameter is required")
	}

	results, err := t.Search(ctx, query)
	if err != nil {
		return nil, err
	}

	items := make([]any, len(results))
	for i, r := range results {
		items[i] = map[string]any{"title": r.Title, "url": r.URL, "snippet": r.Snippet}
	}

	return map[string]any{
		"query":   query,
		"count":   len(results),
		"results": items,
	}, nil
}

// Search runs query and returns at most MaxResults hits.
func (t *SearchTool) Search(ctx context.Context, query string) ([]Result, error) {
	form := url.Values{}
	form.Set("q", query)
	form.Set("kl", t.region)
	body := form.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := t.client.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}

	results, err := parseResults(io.LimitReader(resp.Body, maxBodyBytes), t.maxResults)
	if err != nil {
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}

	slog.Debug("Web search completed", "query", query, "results", len(results), "duration", time.Since(start))
	return results, nil
}

// parseResults walks the DuckDuckGo HTML result list.
func parseResults(r io.Reader, limit int) ([]Result, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var results []Result
	var walk func(n *html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.Div && hasClass(n, "result") && !hasClass(n, "result--ad") {
			if res, ok := parseResult(n); ok {
				results = append(results, res)
				if len(results) >= limit {
					return false
				}
			}
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !walk(c) {
				return false
			}
		}
		return true
	}
	walk(doc)

	return results, nil
}

func parseResult(n *html.Node) (Result, bool) {
	var res Result
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.DataAtom == atom.A && hasClass(n, "result__a"):
				res.Title = collapse(textContent(n))
				res.URL = resolveURL(attr(n, "href"))
				return
			case hasClass(n, "result__snippet"):
				res.Snippet = collapse(textContent(n))
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)

	return res, res.Title != "" && res.URL != ""
}

// resolveURL unwraps DuckDuckGo's redirect links (//duckduckgo.com/l/?uddg=...).
func resolveURL(href string) string {
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "" && strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return href
}

func hasClass(n *html.Node, class string) bool {
	for _, field := range strings.Fields(attr(n, "class")) {
		if field == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return sb.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var _ tool.CallableTool = (*SearchTool)(nil)
