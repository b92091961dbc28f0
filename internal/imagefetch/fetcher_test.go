package imagefetch_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assesslab/internal/domain"
	"assesslab/internal/imagefetch"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 1, 2, 3}

func imageServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "no-cache", r.Header.Get("Cache-Control"))
		assert.Empty(t, r.URL.RawQuery)
		switch r.URL.Path {
		case "/missing.png":
			http.NotFound(w, r)
		case "/doc":
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF-1.4"))
		case "/page.html":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html></html>"))
		case "/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(pngBytes)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

type countingRecorder struct{ n atomic.Int32 }

func (c *countingRecorder) ImageFetchFailed() { c.n.Add(1) }

func TestProcessBatch_PartialFailure(t *testing.T) {
	server := imageServer(t)
	rec := &countingRecorder{}
	f := imagefetch.New(0, nil, imagefetch.WithFailureRecorder(rec))

	urls := []string{
		server.URL + "/a.png?token=1",
		server.URL + "/b.png",
		server.URL + "/missing.png",
		server.URL + "/d.png",
	}
	outcome, err := f.ProcessBatch(context.Background(), urls)

	require.NoError(t, err)
	assert.Len(t, outcome.Succeeded, 3)
	require.Len(t, outcome.Failed, 1)
	assert.Equal(t, 2, outcome.Failed[0].Index)
	assert.Equal(t, urls[2], outcome.Failed[0].URL)
	assert.Contains(t, outcome.Failed[0].Error, "404")
	assert.Equal(t, len(urls), len(outcome.Succeeded)+len(outcome.Failed))
	assert.Equal(t, int32(1), rec.n.Load())

	assert.Equal(t, server.URL+"/a.png", outcome.Succeeded[0].URL)
	assert.Equal(t, "image/png", outcome.Succeeded[0].MediaType)
	assert.Equal(t, base64.StdEncoding.EncodeToString(pngBytes), outcome.Succeeded[0].Data)
}

func TestProcessBatch_AllFailedListsEveryReason(t *testing.T) {
	server := imageServer(t)
	f := imagefetch.New(0, nil)

	urls := []string{
		server.URL + "/missing.png",
		server.URL + "/broken",
		server.URL + "/missing.png?x=1",
		server.URL + "/broken?y=2",
	}
	outcome, err := f.ProcessBatch(context.Background(), urls)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDocumentAccess))
	assert.Empty(t, outcome.Succeeded)
	assert.Len(t, outcome.Failed, 4)
	for i := 1; i <= 4; i++ {
		assert.Contains(t, err.Error(), "image "+string(rune('0'+i)))
	}
	assert.Contains(t, err.Error(), "all 4 images failed")
}

func TestProcessBatch_RejectsPDFAndNonImages(t *testing.T) {
	server := imageServer(t)
	f := imagefetch.New(0, nil)

	outcome, err := f.ProcessBatch(context.Background(), []string{
		server.URL + "/scan.pdf",
		server.URL + "/doc",
		server.URL + "/page.html",
		server.URL + "/ok.jpg",
	})

	require.NoError(t, err)
	assert.Len(t, outcome.Succeeded, 1)
	require.Len(t, outcome.Failed, 3)
	assert.Contains(t, outcome.Failed[0].Error, "PDF")
	assert.Contains(t, outcome.Failed[1].Error, "PDF")
	assert.Contains(t, outcome.Failed[2].Error, "unsupported content type")
}

func TestProcessBatch_CancelledContext(t *testing.T) {
	server := imageServer(t)
	f := imagefetch.New(0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.ProcessBatch(ctx, []string{server.URL + "/a.png"})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestEncodeBase64_MatchesStdlibAcrossChunks(t *testing.T) {
	for _, size := range []int{0, 1, 3071, 3072, 3073, 10000} {
		data := bytes.Repeat([]byte{0xAB, 0x01, 0x7F}, size/3+1)[:size]
		got, err := imagefetch.EncodeBase64(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, base64.StdEncoding.EncodeToString(data), got, "size %d", size)
	}
}

func TestCanonicalURL(t *testing.T) {
	assert.Equal(t, "https://cdn.example.com/a/b.png", imagefetch.CanonicalURL("https://cdn.example.com/a/b.png?X-Amz-Signature=abc#frag"))
	assert.True(t, imagefetch.IsPDFURL("https://cdn.example.com/a/B.PDF?download=1"))
	assert.False(t, imagefetch.IsPDFURL("https://cdn.example.com/a/pdf_page_1.jpg"))
	assert.True(t, strings.HasPrefix(imagefetch.CanonicalURL(" https://x.y/z "), "https://"))
}
