package vision_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"assesslab/internal/domain"
	"assesslab/internal/port"
	"assesslab/internal/vision"
	"assesslab/mocks"
)

func urlList(n int) []string {
	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://cdn.example.com/page_%d.jpg", i+1)
	}
	return urls
}

func TestCreateImageBatches_Partitioning(t *testing.T) {
	for n := 0; n <= 13; n++ {
		urls := urlList(n)
		batches := vision.CreateImageBatches(urls, 4)

		assert.Len(t, batches, (n+3)/4, "n=%d", n)
		var joined []string
		for _, b := range batches {
			assert.LessOrEqual(t, len(b), 4)
			assert.NotEmpty(t, b)
			joined = append(joined, b...)
		}
		if n == 0 {
			assert.Empty(t, joined)
			continue
		}
		assert.Equal(t, urls, joined, "n=%d", n)
	}
}

func TestCreateImageBatches_ClampsSize(t *testing.T) {
	batches := vision.CreateImageBatches(urlList(9), 10)
	assert.Len(t, batches, 3)

	batches = vision.CreateImageBatches(urlList(3), 1)
	assert.Len(t, batches, 3)
}

func TestNormalizeImageURLs_JSONArrayString(t *testing.T) {
	got := vision.NormalizeImageURLs([]string{`["https://a/1.jpg", " ", "https://a/2.jpg"]`})
	assert.Equal(t, []string{"https://a/1.jpg", "https://a/2.jpg"}, got)

	got = vision.NormalizeImageURLs([]string{"https://a/1.jpg"})
	assert.Equal(t, []string{"https://a/1.jpg"}, got)
}

func okOutcome(urls []string) domain.ImageProcessingOutcome {
	out := domain.ImageProcessingOutcome{}
	for _, u := range urls {
		out.Succeeded = append(out.Succeeded, domain.ImageContent{URL: u, Data: "QUJD", MediaType: "image/jpeg"})
	}
	return out
}

func TestProcessImagesWithVision_RejectsPDFBeforeModelCall(t *testing.T) {
	client := new(mocks.MockModelClient)
	fetcher := new(mocks.MockImageFetcher)
	o := vision.New(client, fetcher, vision.Config{BatchSize: 4}, nil)

	_, err := o.ProcessImagesWithVision(context.Background(), "read", []string{
		"https://cdn.example.com/a.jpg",
		"https://cdn.example.com/paper.pdf?token=x",
	}, vision.Options{})

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDocumentAccess))
	client.AssertNotCalled(t, "InvokeVision", mock.Anything, mock.Anything)
	fetcher.AssertNotCalled(t, "ProcessBatch", mock.Anything, mock.Anything)
}

func TestProcessImagesWithVision_SingleBatch(t *testing.T) {
	client := new(mocks.MockModelClient)
	fetcher := new(mocks.MockImageFetcher)
	urls := urlList(2)

	fetcher.On("ProcessBatch", mock.Anything, urls).Return(okOutcome(urls), nil)
	client.On("InvokeVision", mock.Anything, mock.MatchedBy(func(r port.VisionRequest) bool {
		return r.Prompt == "read" && len(r.Images) == 2 && r.SystemPrompt == "sys"
	})).Return(&port.ModelResponse{Text: "  page text  "}, nil)

	o := vision.New(client, fetcher, vision.Config{BatchSize: 4}, nil)
	text, err := o.ProcessImagesWithVision(context.Background(), "read", urls, vision.Options{SystemPrompt: "sys"})

	require.NoError(t, err)
	assert.Equal(t, "page text", text)
	client.AssertNumberOfCalls(t, "InvokeVision", 1)
}

func TestProcessImagesWithVision_BatchErrorIsInline(t *testing.T) {
	client := new(mocks.MockModelClient)
	fetcher := new(mocks.MockImageFetcher)
	urls := urlList(6)
	first, second := urls[:4], urls[4:]

	fetcher.On("ProcessBatch", mock.Anything, first).Return(okOutcome(first), nil)
	fetcher.On("ProcessBatch", mock.Anything, second).
		Return(domain.ImageProcessingOutcome{}, fmt.Errorf("%w: all 2 images failed", domain.ErrDocumentAccess))
	client.On("InvokeVision", mock.Anything, mock.MatchedBy(func(r port.VisionRequest) bool {
		return strings.Contains(r.Prompt, "[Batch 1 of 2: images 1-4 of 6.")
	})).Return(&port.ModelResponse{Text: "first four"}, nil)

	rec := &recorder{}
	o := vision.New(client, fetcher, vision.Config{BatchSize: 4, Recorder: rec}, nil)
	text, err := o.ProcessImagesWithVision(context.Background(), "read", urls, vision.Options{})

	require.NoError(t, err)
	assert.Contains(t, text, "--- BATCH 1 RESULTS ---\nfirst four")
	assert.Contains(t, text, "--- NEXT PAGE/BATCH ---")
	assert.Contains(t, text, "--- BATCH 2 ERROR ---")
	assert.Equal(t, 1, rec.ok)
	assert.Equal(t, 1, rec.failed)
}

func TestProcessImagesWithVision_AllBatchesFail(t *testing.T) {
	client := new(mocks.MockModelClient)
	fetcher := new(mocks.MockImageFetcher)
	urls := urlList(5)

	fetcher.On("ProcessBatch", mock.Anything, mock.Anything).Return(okOutcome(urls[:1]), nil)
	client.On("InvokeVision", mock.Anything, mock.Anything).Return(nil, errors.New("upstream down"))

	o := vision.New(client, fetcher, vision.Config{BatchSize: 4}, nil)
	_, err := o.ProcessImagesWithVision(context.Background(), "read", urls, vision.Options{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 2 vision batches failed")
}

func TestProcessImagesWithVision_ParallelKeepsBatchOrder(t *testing.T) {
	client := new(mocks.MockModelClient)
	fetcher := new(mocks.MockImageFetcher)
	urls := urlList(12)

	fetcher.On("ProcessBatch", mock.Anything, mock.Anything).Return(okOutcome(urls[:1]), nil)
	for i := 1; i <= 3; i++ {
		marker := fmt.Sprintf("[Batch %d of 3", i)
		client.On("InvokeVision", mock.Anything, mock.MatchedBy(func(r port.VisionRequest) bool {
			return strings.Contains(r.Prompt, marker)
		})).Return(&port.ModelResponse{Text: fmt.Sprintf("text-%d", i)}, nil)
	}

	o := vision.New(client, fetcher, vision.Config{BatchSize: 4, Parallel: true}, nil)
	text, err := o.ProcessImagesWithVision(context.Background(), "read", urls, vision.Options{})

	require.NoError(t, err)
	i1 := strings.Index(text, "text-1")
	i2 := strings.Index(text, "text-2")
	i3 := strings.Index(text, "text-3")
	assert.True(t, i1 >= 0 && i1 < i2 && i2 < i3, text)
}

func TestProcessImagesWithVision_EmptyInput(t *testing.T) {
	o := vision.New(new(mocks.MockModelClient), new(mocks.MockImageFetcher), vision.Config{}, nil)
	_, err := o.ProcessImagesWithVision(context.Background(), "read", nil, vision.Options{})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

type recorder struct {
	mu     sync.Mutex
	ok     int
	failed int
}

func (r *recorder) VisionBatch(success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if success {
		r.ok++
	} else {
		r.failed++
	}
}
