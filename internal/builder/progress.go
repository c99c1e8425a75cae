package builder

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// Progress phases.
const (
	PhaseBuild   = "build"
	PhaseRescore = "rescore"
	PhaseDone    = "done"
	PhaseError   = "error"
)

// Progress tracks a run.
type Progress struct {
	Phase     string
	Summary   Summary
	BytesRead int64
	StartTime time.Time
	Error     error
}

// ProgressFunc is called periodically with progress updates.
type ProgressFunc func(Progress)

// progressReader wraps an io.Reader to track bytes read.
type progressReader struct {
	r    io.Reader
	read *atomic.Int64
}

func newProgressReader(r io.Reader, counter *atomic.Int64) *progressReader {
	return &progressReader{r: r, read: counter}
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	pr.read.Add(int64(n))
	return n, err
}

// FormatBytes formats bytes as human-readable string.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatDuration formats duration as human-readable string.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

// DefaultProgressFunc prints progress to stdout.
func DefaultProgressFunc(p Progress) {
	s := p.Summary
	switch p.Phase {
	case PhaseBuild:
		fmt.Printf("\r[Build] %d games, %d analyzed, %d skipped, %d failed (%s read)",
			s.Parsed, s.Analyzed, s.Skipped, s.Failed, FormatBytes(p.BytesRead))
	case PhaseRescore:
		fmt.Printf("\r[Rescore] %d rescored, %d failed", s.Rescored, s.Failed)
	case PhaseDone:
		fmt.Printf("\n[Done] %d analyzed, %d rescored, %d skipped, %d failed, %d parse errors (%s)\n",
			s.Analyzed, s.Rescored, s.Skipped, s.Failed, s.ParseErrors, FormatDuration(time.Since(p.StartTime)))
	case PhaseError:
		fmt.Printf("\n[Error] %v\n", p.Error)
	}
}
