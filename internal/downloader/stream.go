package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/italolelis/mediafetch/internal/downloader/progress"
	"github.com/italolelis/mediafetch/internal/job"
	"github.com/italolelis/mediafetch/internal/logctx"
	"github.com/italolelis/mediafetch/internal/telemetry"
)

// ChunkSize is the size of every chunk a Stream yields, except the last.
const ChunkSize = 1 << 20

const streamLogInterval = 64 * ChunkSize

// Stream delivers a completed artifact in fixed-size chunks. It holds the file
// open, so a cleanup that unlinks the file mid-transfer does not truncate it.
type Stream struct {
	// Filename is the user-facing download name.
	Filename string
	// Size is the artifact size in bytes.
	Size int64

	file      *os.File
	reader    *progress.Reader
	buf       []byte
	eof       bool
	telemetry *telemetry.Telemetry
}

// OpenStream opens the artifact of a completed job. It returns
// job.ErrNotFound for unknown ids, ErrNotReady if the job has not completed
// and ErrFileMissing if the artifact is gone.
func (m *Manager) OpenStream(ctx context.Context, id string) (*Stream, error) {
	j, err := m.registry.Get(id)
	if err != nil {
		return nil, err
	}

	if j.Status != job.StatusCompleted {
		return nil, fmt.Errorf("%w: job %s is %s", ErrNotReady, id, j.Status)
	}

	f, err := os.Open(j.FilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: job %s", ErrFileMissing, id)
		}

		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()

		return nil, fmt.Errorf("failed to stat artifact: %w", err)
	}

	logger := logctx.LoggerFromContext(ctx).With("job_id", id)

	return &Stream{
		Filename: j.FinalFilename,
		Size:     info.Size(),
		file:     f,
		reader: progress.NewReader(f, info.Size(), streamLogInterval, func(read, total int64) {
			logger.Debug("streaming artifact", "sent", read, "total", total)
		}),
		buf:       make([]byte, ChunkSize),
		telemetry: m.opts.Telemetry,
	}, nil
}

// Next returns the next chunk, or io.EOF after the last one. The returned
// slice is only valid until the following call.
func (s *Stream) Next() ([]byte, error) {
	if s.eof {
		return nil, io.EOF
	}

	n, err := io.ReadFull(s.reader, s.buf)

	switch {
	case err == nil:
		return s.buf[:n], nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		s.eof = true

		return s.buf[:n], nil
	case errors.Is(err, io.EOF):
		s.eof = true

		return nil, io.EOF
	default:
		return nil, err
	}
}

// WriteTo copies every remaining chunk to w, flushing after each one when w
// supports it.
func (s *Stream) WriteTo(w io.Writer) (int64, error) {
	flusher, _ := w.(http.Flusher)

	var written int64

	defer func() { s.telemetry.RecordStreamedBytes(written) }()

	for {
		chunk, err := s.Next()
		if errors.Is(err, io.EOF) {
			return written, nil
		}

		if err != nil {
			return written, err
		}

		n, err := w.Write(chunk)
		written += int64(n)

		if err != nil {
			return written, err
		}

		if flusher != nil {
			flusher.Flush()
		}
	}
}

// Close releases the file handle.
func (s *Stream) Close() error {
	return s.file.Close()
}
