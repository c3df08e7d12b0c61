package progress

import "io"

// Reader wraps an io.Reader and reports cumulative bytes through OnProgress
// every interval bytes and once more when Total is reached.
type Reader struct {
	Reader     io.Reader
	Total      int64
	OnProgress func(read int64, total int64)

	totalRead  int64
	sinceLast  int64
	interval   int64
	reportedAt int64
}

// NewReader wraps r. A nil cb disables reporting.
func NewReader(r io.Reader, total int64, interval int64, cb func(read int64, total int64)) *Reader {
	return &Reader{
		Reader:     r,
		Total:      total,
		OnProgress: cb,
		interval:   interval,
		reportedAt: -1,
	}
}

// Read implements io.Reader.
func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n > 0 {
		pr.totalRead += int64(n)
		pr.sinceLast += int64(n)

		done := pr.Total > 0 && pr.totalRead >= pr.Total
		if (pr.interval > 0 && pr.sinceLast >= pr.interval) || done {
			pr.report()
		}
	}

	return n, err
}

// BytesRead returns the number of bytes read so far.
func (pr *Reader) BytesRead() int64 {
	return pr.totalRead
}

func (pr *Reader) report() {
	pr.sinceLast = 0

	if pr.OnProgress == nil || pr.reportedAt == pr.totalRead {
		return
	}

	pr.reportedAt = pr.totalRead
	pr.OnProgress(pr.totalRead, pr.Total)
}
