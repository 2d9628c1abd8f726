package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/pbaille/hwsync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func firstParagraph(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "p" && n.FirstChild != nil {
		return n.FirstChild.Data
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if s := firstParagraph(c); s != "" {
			return s
		}
	}
	return ""
}

func TestCanvasFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/courses/520/front_page", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"title":"7th Grade HW","body":"<p>Monday, Dec 1, 2025</p>"}`))
	}))
	defer srv.Close()

	c := NewCanvas(srv.URL, "520", "secret")
	doc, err := c.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Monday, Dec 1, 2025", firstParagraph(doc))
}

func TestCanvasFetch_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewCanvas(srv.URL, "520", "bad").Fetch(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSourceFetch)
}

func TestCanvasFetch_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"title":"HW","body":""}`))
	}))
	defer srv.Close()

	_, err := NewCanvas(srv.URL, "520", "").Fetch(context.Background())
	assert.ErrorIs(t, err, domain.ErrSourceFetch)
}

func TestCanvasFetch_MissingCourse(t *testing.T) {
	_, err := NewCanvas("https://example.instructure.com", "", "").Fetch(context.Background())
	assert.ErrorIs(t, err, domain.ErrSourceFetch)
}

func TestFileFetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "homework-page.html")
	require.NoError(t, os.WriteFile(path, []byte("<html><body><p>Math: p. 12</p></body></html>"), 0o644))

	doc, err := File{Path: path}.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Math: p. 12", firstParagraph(doc))

	_, err = File{Path: filepath.Join(t.TempDir(), "missing.html")}.Fetch(context.Background())
	assert.ErrorIs(t, err, domain.ErrSourceFetch)
}
