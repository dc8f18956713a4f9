package tokenizer

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAnthropic(t *testing.T) *Anthropic {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"input_tokens":7}`)
	}))
	t.Cleanup(srv.Close)
	return &Anthropic{
		client: anthropic.NewClient(
			option.WithAPIKey("test"),
			option.WithBaseURL(srv.URL),
			option.WithMaxRetries(0),
		),
		model:   DefaultAnthropicModel,
		timeout: 2 * time.Second,
	}
}

func TestAnthropic_CountAndClose(t *testing.T) {
	a := newTestAnthropic(t)
	n, err := a.Count("hello")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	require.NoError(t, a.Close())
	_, err = a.Count("hello")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestTiktoken_ClosedReturnsError(t *testing.T) {
	tk := &Tiktoken{model: "gpt-4"}
	_, err := tk.Count("hello")
	assert.ErrorIs(t, err, ErrClosed)
	require.NoError(t, tk.Close())
}

func TestEstimator_CloseDuringEstimate(t *testing.T) {
	e := NewEstimatorWith(newTestAnthropic(t), 1.0, 10)

	var wg sync.WaitGroup
	results := make([]int, 40)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = e.Estimate(fmt.Sprintf("message %d", i))
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, e.Close())
	}()
	wg.Wait()

	// Every call either reached the primary or fell back; none failed.
	for i, n := range results {
		assert.Positive(t, n, "result %d", i)
	}
	assert.Equal(t, "fallback", e.Name())
}
