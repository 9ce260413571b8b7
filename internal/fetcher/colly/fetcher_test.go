package collyfetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/localnewslab/newsingest/internal/ingest"
)

func TestFetchReturnsBodyAndStatus(t *testing.T) {
	t.Parallel()

	var gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.UserAgent()
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body><p>article</p></body></html>"))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "newsingest-test", Timeout: 5 * time.Second})
	resp, err := f.Fetch(context.Background(), ingest.FetchRequest{Source: "gazette", URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(resp.Body), "article")
	require.Equal(t, "newsingest-test", gotAgent)
}

func TestFetchKeepsBlockedResponseBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("<html><body>Access denied. Please verify you are a human.</body></html>"))
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second})
	resp, err := f.Fetch(context.Background(), ingest.FetchRequest{Source: "gazette", URL: srv.URL})
	// The detector needs the defense page body; a blocked status is not an
	// error at this layer.
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Contains(t, string(resp.Body), "verify you are a human")
}

func TestFetchPropagatesRequestHeaders(t *testing.T) {
	t.Parallel()

	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("Accept-Language")
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second})
	_, err := f.Fetch(context.Background(), ingest.FetchRequest{
		Source:  "gazette",
		URL:     srv.URL,
		Headers: http.Header{"Accept-Language": {"en-US"}},
	})
	require.NoError(t, err)
	require.Equal(t, "en-US", gotHeader)
}

func TestFetchHonorsContextDeadline(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(2 * time.Second)
		_, _ = w.Write([]byte("too late"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	f := New(Config{Timeout: 5 * time.Second})
	start := time.Now()
	_, err := f.Fetch(ctx, ingest.FetchRequest{Source: "gazette", URL: srv.URL})
	require.Error(t, err)
	require.Less(t, time.Since(start), time.Second)
}

func TestFetchRejectsUnreachableHost(t *testing.T) {
	t.Parallel()

	f := New(Config{Timeout: time.Second})
	_, err := f.Fetch(context.Background(), ingest.FetchRequest{
		Source: "gazette",
		URL:    "http://127.0.0.1:1/never",
	})
	require.Error(t, err)
}
