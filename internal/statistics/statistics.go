package statistics

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	statusSuccess = "success"
	statusFailure = "failure"
)

// Statistics accumulates counters for the lifetime of the process.
// All methods are safe on a nil receiver so callers can leave it unset.
type Statistics struct {
	CompressionsStarted   int64
	CompressionsSucceeded int64
	CompressionsFailed    int64
	UploadsSucceeded      int64
	UploadsFailed         int64
	BytesIn               int64
	BytesOut              int64
	CompressionMillis     int64

	StartTime time.Time

	metrics *Metrics
}

// Snapshot is a point-in-time copy suitable for JSON.
type Snapshot struct {
	CompressionsStarted   int64   `json:"compressions_started"`
	CompressionsSucceeded int64   `json:"compressions_succeeded"`
	CompressionsFailed    int64   `json:"compressions_failed"`
	UploadsSucceeded      int64   `json:"uploads_succeeded"`
	UploadsFailed         int64   `json:"uploads_failed"`
	BytesIn               int64   `json:"bytes_in"`
	BytesOut              int64   `json:"bytes_out"`
	BytesSaved            int64   `json:"bytes_saved"`
	AverageReduction      int     `json:"average_reduction_percentage"`
	AverageMillis         int64   `json:"average_compression_ms"`
	UptimeSeconds         float64 `json:"uptime_seconds"`
}

// NewStatistics returns a new Statistics instance. metrics may be nil.
func NewStatistics(metrics *Metrics) *Statistics {
	return &Statistics{
		StartTime: time.Now(),
		metrics:   metrics,
	}
}

// RecordCompressionStarted counts a compression attempt.
func (s *Statistics) RecordCompressionStarted() {
	if s == nil {
		return
	}
	atomic.AddInt64(&s.CompressionsStarted, 1)
}

// RecordCompression counts a successful compression.
func (s *Statistics) RecordCompression(originalSize, compressedSize int64, elapsed time.Duration) {
	if s == nil {
		return
	}
	atomic.AddInt64(&s.CompressionsSucceeded, 1)
	atomic.AddInt64(&s.BytesIn, originalSize)
	atomic.AddInt64(&s.BytesOut, compressedSize)
	atomic.AddInt64(&s.CompressionMillis, elapsed.Milliseconds())
	s.metrics.observeCompression(statusSuccess, elapsed, originalSize-compressedSize)
}

// RecordCompressionFailure counts a failed compression.
func (s *Statistics) RecordCompressionFailure() {
	if s == nil {
		return
	}
	atomic.AddInt64(&s.CompressionsFailed, 1)
	s.metrics.observeCompression(statusFailure, 0, 0)
}

// RecordUpload counts an upload by outcome.
func (s *Statistics) RecordUpload(err error) {
	if s == nil {
		return
	}
	if err != nil {
		atomic.AddInt64(&s.UploadsFailed, 1)
		s.metrics.observeUpload(statusFailure)
		return
	}
	atomic.AddInt64(&s.UploadsSucceeded, 1)
	s.metrics.observeUpload(statusSuccess)
}

// RecordProgress publishes the progress of the compression in flight.
func (s *Statistics) RecordProgress(p int) {
	if s == nil {
		return
	}
	s.metrics.setProgress(p)
}

// Snapshot returns the current counters.
func (s *Statistics) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	snap := Snapshot{
		CompressionsStarted:   atomic.LoadInt64(&s.CompressionsStarted),
		CompressionsSucceeded: atomic.LoadInt64(&s.CompressionsSucceeded),
		CompressionsFailed:    atomic.LoadInt64(&s.CompressionsFailed),
		UploadsSucceeded:      atomic.LoadInt64(&s.UploadsSucceeded),
		UploadsFailed:         atomic.LoadInt64(&s.UploadsFailed),
		BytesIn:               atomic.LoadInt64(&s.BytesIn),
		BytesOut:              atomic.LoadInt64(&s.BytesOut),
		UptimeSeconds:         time.Since(s.StartTime).Seconds(),
	}
	snap.BytesSaved = snap.BytesIn - snap.BytesOut
	if snap.CompressionsSucceeded > 0 {
		snap.AverageReduction = ReductionPercentage(snap.BytesIn, snap.BytesOut)
		snap.AverageMillis = atomic.LoadInt64(&s.CompressionMillis) / snap.CompressionsSucceeded
	}
	return snap
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	snap := s.Snapshot()
	return fmt.Sprintf(`Image Compressor Statistics Summary:

Compressions:
		Started: %d
		Succeeded: %d
		Failed: %d
		Average Time: %s

Bytes:
		In: %s
		Out: %s
		Saved: %s (%d%%)

Uploads:
		Succeeded: %d
		Failed: %d`,
		snap.CompressionsStarted,
		snap.CompressionsSucceeded,
		snap.CompressionsFailed,
		FormatSeconds(snap.AverageMillis),
		FormatSize(snap.BytesIn),
		FormatSize(snap.BytesOut),
		FormatSize(snap.BytesSaved),
		snap.AverageReduction,
		snap.UploadsSucceeded,
		snap.UploadsFailed)
}

// ReductionPercentage returns round((1 - compressed/original) * 100) clamped to [0,100].
func ReductionPercentage(originalSize, compressedSize int64) int {
	if originalSize <= 0 {
		return 0
	}
	r := math.Round((1 - float64(compressedSize)/float64(originalSize)) * 100)
	return int(math.Max(0, math.Min(100, r)))
}

// StorageSaved returns how many bytes compression removed.
func StorageSaved(originalSize, compressedSize int64) int64 {
	return originalSize - compressedSize
}

// Multiplier returns how many compressed images fit in the space of one original,
// rounded to one decimal.
func Multiplier(originalSize, compressedSize int64) float64 {
	if compressedSize <= 0 {
		return 0
	}
	return math.Round(float64(originalSize)/float64(compressedSize)*10) / 10
}

// FormatSeconds renders milliseconds as seconds with two decimals.
func FormatSeconds(ms int64) string {
	return fmt.Sprintf("%.2fs", float64(ms)/1000)
}

// FormatSize renders a byte count for humans.
func FormatSize(n int64) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return humanize.IBytes(uint64(n))
}
