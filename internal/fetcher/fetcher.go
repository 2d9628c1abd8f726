package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pbaille/hwsync/internal/domain"
	"golang.org/x/net/html"
)

// maxBody caps how much of a response or file is read (5MB)
const maxBody = 5 * 1024 * 1024

// Source yields the timetable document for one sync run
type Source interface {
	Fetch(ctx context.Context) (*html.Node, error)
}

// Canvas reads a course front page through the Canvas LMS API
type Canvas struct {
	Domain   string
	CourseID string
	Token    string
	Client   *http.Client
}

// NewCanvas creates a Canvas source
func NewCanvas(domain, courseID, token string) *Canvas {
	return &Canvas{
		Domain:   domain,
		CourseID: courseID,
		Token:    token,
		Client:   &http.Client{Timeout: 30 * time.Second},
	}
}

type frontPage struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Fetch retrieves the front page and parses its HTML body
func (c *Canvas) Fetch(ctx context.Context) (*html.Node, error) {
	body, err := c.fetchBody(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSourceFetch, err)
	}
	return Parse(body)
}

func (c *Canvas) fetchBody(ctx context.Context) (string, error) {
	base, err := url.Parse(c.Domain)
	if err != nil {
		return "", fmt.Errorf("invalid domain: %w", err)
	}
	if base.Scheme == "" {
		base.Scheme = "https"
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme: %s", base.Scheme)
	}
	if strings.TrimSpace(c.CourseID) == "" {
		return "", fmt.Errorf("course id is required")
	}
	u := base.JoinPath("api", "v1", "courses", c.CourseID, "front_page")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "hwsync/1.0 (homework-sync)")
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	var page frontPage
	if err := json.Unmarshal(raw, &page); err != nil {
		return "", fmt.Errorf("decode front page: %w", err)
	}
	if strings.TrimSpace(page.Body) == "" {
		return "", fmt.Errorf("front page %q has no body", page.Title)
	}
	return page.Body, nil
}

// File reads a saved timetable page from disk
type File struct {
	Path string
}

// Fetch reads and parses the file
func (f File) Fetch(ctx context.Context) (*html.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", domain.ErrSourceFetch, f.Path, err)
	}
	defer fh.Close()

	raw, err := io.ReadAll(io.LimitReader(fh, maxBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrSourceFetch, f.Path, err)
	}
	return Parse(string(raw))
}

// Parse turns timetable markup into a document tree
func Parse(content string) (*html.Node, error) {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", domain.ErrSourceFetch, err)
	}
	return doc, nil
}
