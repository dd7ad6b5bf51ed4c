package session

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"image-compressor-go/internal/compressor"
	"image-compressor-go/internal/preview"
	"image-compressor-go/internal/statistics"

	"github.com/sirupsen/logrus"
)

// ErrBusy is returned when a compression is requested while another is running.
var ErrBusy = errors.New("compression already in progress")

// defaultFailureMessage is surfaced when the compressor gives no message.
const defaultFailureMessage = "Compression failed"

// CompressionError carries the human-readable message shown to the user.
type CompressionError struct {
	Message string
	Err     error
}

func (e *CompressionError) Error() string { return e.Message }
func (e *CompressionError) Unwrap() error { return e.Err }

// ProgressObserver receives integer progress values in [0,100].
type ProgressObserver func(progress int)

// Orchestrator drives one compression at a time and tracks its progress.
type Orchestrator struct {
	compressor compressor.Compressor
	opts       compressor.Options
	previews   *preview.Registry
	log        *logrus.Logger
	stats      *statistics.Statistics
	now        func() time.Time
	observer   ProgressObserver

	mu       sync.Mutex
	busy     bool
	progress int
	lastErr  string
}

// OrchestratorOption customises an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithClock replaces time.Now for elapsed-time measurement.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

// WithProgressObserver registers fn to receive progress updates.
func WithProgressObserver(fn ProgressObserver) OrchestratorOption {
	return func(o *Orchestrator) { o.observer = fn }
}

// WithStatistics records compression outcomes on stats.
func WithStatistics(stats *statistics.Statistics) OrchestratorOption {
	return func(o *Orchestrator) { o.stats = stats }
}

// NewOrchestrator returns an idle Orchestrator.
func NewOrchestrator(c compressor.Compressor, opts compressor.Options, previews *preview.Registry, log *logrus.Logger, options ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		compressor: c,
		opts:       opts,
		previews:   previews,
		log:        log,
		now:        time.Now,
	}
	for _, opt := range options {
		opt(o)
	}
	return o
}

// Busy reports whether a compression is in flight.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.busy
}

// Progress returns the current progress value.
func (o *Orchestrator) Progress() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress
}

// LastError returns the message of the most recent failure, cleared when a
// new image is selected or a new compression starts.
func (o *Orchestrator) LastError() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// Compress runs the compressor on src. Progress values are non-decreasing
// during the call and drop back to 0 once it returns.
func (o *Orchestrator) Compress(ctx context.Context, src SourceImage) (*CompressionOutcome, error) {
	if err := o.claim(); err != nil {
		return nil, err
	}
	return o.run(ctx, src)
}

// claim marks the orchestrator busy. A successful claim must be followed by
// exactly one run.
func (o *Orchestrator) claim() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busy {
		return ErrBusy
	}
	o.busy = true
	o.progress = 0
	o.lastErr = ""
	return nil
}

func (o *Orchestrator) clearError() {
	o.mu.Lock()
	o.lastErr = ""
	o.mu.Unlock()
}

func (o *Orchestrator) run(ctx context.Context, src SourceImage) (*CompressionOutcome, error) {
	defer o.finish()

	entry := o.log.WithFields(logrus.Fields{"image": src.Name, "operation": "compress"})
	o.stats.RecordCompressionStarted()
	o.emit(0)

	start := o.now()
	out, err := o.compressor.Compress(ctx, src.File, o.opts, o.advance)
	elapsed := o.now().Sub(start)

	if err != nil {
		msg := err.Error()
		if msg == "" {
			msg = defaultFailureMessage
		}
		o.mu.Lock()
		o.lastErr = msg
		o.mu.Unlock()
		o.stats.RecordCompressionFailure()
		entry.WithError(err).Warn("Compression failed")
		return nil, &CompressionError{Message: msg, Err: err}
	}

	o.advance(100)

	outcome := &CompressionOutcome{
		File:                *out,
		Preview:             o.previews.Acquire(out.Data, out.MIMEType),
		OriginalSize:        src.Size,
		CompressedSize:      out.Size(),
		ReductionPercentage: statistics.ReductionPercentage(src.Size, out.Size()),
		ElapsedMillis:       elapsed.Round(time.Millisecond).Milliseconds(),
	}
	o.stats.RecordCompression(outcome.OriginalSize, outcome.CompressedSize, elapsed)
	entry.WithFields(logrus.Fields{
		"original_size":   outcome.OriginalSize,
		"compressed_size": outcome.CompressedSize,
		"reduction":       outcome.ReductionPercentage,
		"elapsed_ms":      outcome.ElapsedMillis,
	}).Info("Compression completed")
	return outcome, nil
}

// advance raises progress to p if p is higher, clamped to [0,100].
func (o *Orchestrator) advance(p float64) {
	v := int(math.Round(math.Max(0, math.Min(100, p))))
	o.mu.Lock()
	if v <= o.progress {
		o.mu.Unlock()
		return
	}
	o.progress = v
	o.mu.Unlock()
	o.emit(v)
}

func (o *Orchestrator) finish() {
	o.mu.Lock()
	o.busy = false
	o.progress = 0
	o.mu.Unlock()
	o.emit(0)
}

func (o *Orchestrator) emit(v int) {
	o.stats.RecordProgress(v)
	if o.observer != nil {
		o.observer(v)
	}
}

// ProgressStatus maps a progress value to the status text shown to the user.
func ProgressStatus(progress int) string {
	switch {
	case progress < 30:
		return "Analyzing image..."
	case progress < 70:
		return "Compressing..."
	case progress < 100:
		return "Almost done..."
	default:
		return "Complete!"
	}
}
