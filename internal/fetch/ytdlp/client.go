// Package ytdlp implements fetch.Backend on top of the yt-dlp executable.
package ytdlp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	goytdlp "github.com/lrstanley/go-ytdlp"

	"github.com/italolelis/mediafetch/internal/fetch"
)

// BackendName identifies this backend in logs and metrics.
const BackendName = "yt-dlp"

const defaultProgressInterval = 500 * time.Millisecond

// Client drives yt-dlp through go-ytdlp.
type Client struct {
	binaryPath       string
	progressInterval time.Duration
}

// NewClient creates a client. An empty binaryPath resolves yt-dlp from PATH.
func NewClient(binaryPath string) *Client {
	return &Client{
		binaryPath:       binaryPath,
		progressInterval: defaultProgressInterval,
	}
}

// FormatSelector returns the yt-dlp format expression for a height cap:
// best video up to the cap merged with best audio, or the best single file
// up to the cap.
func FormatSelector(resolution int) string {
	if resolution <= 0 {
		return "bestvideo+bestaudio/best"
	}

	return fmt.Sprintf("bestvideo[height<=%d]+bestaudio/best[height<=%d]", resolution, resolution)
}

// Probe runs yt-dlp without downloading and reads title, thumbnail and duration.
func (c *Client) Probe(ctx context.Context, url string) (fetch.Metadata, error) {
	result, err := c.command().
		SkipDownload().
		DumpJSON().
		NoPlaylist().
		Run(ctx, url)
	if err != nil {
		return fetch.Metadata{}, &fetch.ExtractionError{URL: url, Reason: "yt-dlp failed", Err: err}
	}

	infos, err := result.GetExtractedInfo()
	if err != nil {
		return fetch.Metadata{}, &fetch.ExtractionError{URL: url, Reason: "unreadable metadata", Err: err}
	}

	if len(infos) == 0 || infos[0] == nil {
		return fetch.Metadata{}, &fetch.ExtractionError{URL: url, Reason: "no media found"}
	}

	info := infos[0]

	var meta fetch.Metadata

	if info.Title != nil {
		meta.Title = *info.Title
	}

	if info.Thumbnail != nil {
		meta.ThumbnailURL = *info.Thumbnail
	}

	if info.Duration != nil {
		meta.DurationSeconds = *info.Duration
	}

	return meta, nil
}

// Fetch downloads req.URL into req.OutputPath. When onProgress returns an
// error the yt-dlp process is killed and that error is returned.
func (c *Client) Fetch(ctx context.Context, req fetch.Request, onProgress fetch.ProgressFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		abortErr error
	)

	cmd := c.command().
		Format(FormatSelector(req.Resolution)).
		Output(req.OutputPath).
		NoPlaylist().
		ForceOverwrites()

	if req.Format != "" {
		cmd = cmd.MergeOutputFormat(req.Format)
	}

	cmd.ProgressFunc(c.progressInterval, func(update goytdlp.ProgressUpdate) {
		mu.Lock()
		defer mu.Unlock()

		if abortErr != nil || onProgress == nil {
			return
		}

		ev, ok := toEvent(update)
		if !ok {
			return
		}

		if err := onProgress(ev); err != nil {
			abortErr = err

			cancel()
		}
	})

	_, err := cmd.Run(ctx, req.URL)

	mu.Lock()
	aborted := abortErr
	mu.Unlock()

	if aborted != nil {
		return aborted
	}

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &fetch.FetchError{Operation: "download", Reason: "timed out", Err: err}
		}

		return &fetch.FetchError{Operation: "download", Reason: err.Error(), Err: err}
	}

	return nil
}

func (c *Client) command() *goytdlp.Command {
	cmd := goytdlp.New()
	if c.binaryPath != "" {
		cmd = cmd.SetExecutable(c.binaryPath)
	}

	return cmd
}

// toEvent maps a yt-dlp progress update. Statuses other than downloading
// and finished carry nothing the job tracks.
//
// go-ytdlp folds total_bytes_estimate into TotalBytes when yt-dlp has no
// exact size. yt-dlp only estimates for fragmented (HLS/DASH) downloads, so
// a fragment count marks the total as an estimate.
func toEvent(update goytdlp.ProgressUpdate) (fetch.ProgressEvent, bool) {
	ev := fetch.ProgressEvent{DownloadedBytes: int64(update.DownloadedBytes)}

	if update.FragmentCount > 0 {
		ev.TotalBytesEstimate = int64(update.TotalBytes)
	} else {
		ev.TotalBytes = int64(update.TotalBytes)
	}

	switch string(update.Status) {
	case string(fetch.PhaseDownloading):
		ev.Phase = fetch.PhaseDownloading
	case string(fetch.PhaseFinished):
		ev.Phase = fetch.PhaseFinished
	default:
		return fetch.ProgressEvent{}, false
	}

	return ev, true
}

var _ fetch.Backend = (*Client)(nil)
