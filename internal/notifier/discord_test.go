package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/mediafetch/internal/job"
)

func TestDiscordNotifier_Notify(t *testing.T) {
	var got map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewDiscordNotifier(srv.URL)
	require.NoError(t, n.Notify(context.Background(), "hello"))
	assert.Equal(t, map[string]string{"content": "hello"}, got)
}

func TestDiscordNotifier_Errors(t *testing.T) {
	require.Error(t, (&DiscordNotifier{}).Notify(context.Background(), "x"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordNotifier(srv.URL).Notify(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestJobMessage(t *testing.T) {
	assert.Equal(t, "✅ Download ready: Clip_720p.mp4 (2.0 MB)", JobMessage(job.Job{
		Status: job.StatusCompleted, FinalFilename: "Clip_720p.mp4", TotalBytes: 2_000_000,
	}))
	assert.Equal(t, "🚫 Download cancelled: Clip_720p.mp4", JobMessage(job.Job{
		Status: job.StatusCancelled, FinalFilename: "Clip_720p.mp4",
	}))
	assert.Equal(t, "❌ Download failed for https://v.example/a: boom", JobMessage(job.Job{
		Status: job.StatusError, URL: "https://v.example/a", ErrorMessage: "boom",
	}))
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingNotifier) Notify(_ context.Context, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.messages = append(r.messages, content)

	return nil
}

func TestForward(t *testing.T) {
	events := make(chan job.Job, 2)
	events <- job.Job{ID: "a", Status: job.StatusCancelled, FinalFilename: "a.mp4"}
	events <- job.Job{ID: "b", Status: job.StatusError, URL: "u", ErrorMessage: "e"}
	close(events)

	rec := &recordingNotifier{}
	Forward(context.Background(), events, rec)

	assert.Equal(t, []string{"🚫 Download cancelled: a.mp4", "❌ Download failed for u: e"}, rec.messages)
}
