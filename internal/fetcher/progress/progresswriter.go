package progress

import "io"

// Clamp bounds a percentage to [0, 100].
func Clamp(percent float64) float64 {
	switch {
	case percent < 0:
		return 0
	case percent > 100:
		return 100
	default:
		return percent
	}
}

// Percent computes written*100/total clamped to [0, 100].
// An unknown total (<= 0) reports 0.
func Percent(written, total int64) float64 {
	if total <= 0 {
		return 0
	}

	return Clamp(float64(written) * 100 / float64(total))
}

// ProgressWriter wraps an io.Writer and reports the completed percentage after
// every successful write. Reported values never decrease.
type ProgressWriter struct {
	Writer       io.Writer
	Total        int64
	OnProgress   func(percent float64)
	totalWritten int64
	last         float64
}

func NewWriter(w io.Writer, total int64, cb func(percent float64)) *ProgressWriter {
	return &ProgressWriter{
		Writer:     w,
		Total:      total,
		OnProgress: cb,
	}
}

func (pw *ProgressWriter) Write(p []byte) (int, error) {
	n, err := pw.Writer.Write(p)
	if n > 0 {
		pw.totalWritten += int64(n)
	}
	if err != nil {
		return n, err
	}

	if pct := Percent(pw.totalWritten, pw.Total); pct >= pw.last {
		pw.last = pct
		if pw.OnProgress != nil {
			pw.OnProgress(pct)
		}
	}
	return n, nil
}

// BytesWritten returns the number of bytes written so far.
func (pw *ProgressWriter) BytesWritten() int64 {
	return pw.totalWritten
}
