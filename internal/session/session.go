// Package session holds the single active image workflow: the selected source
// image, its latest compression outcome and the upload result.
package session

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"image-compressor-go/internal/compressor"
	"image-compressor-go/internal/extractor"
	"image-compressor-go/internal/logger"
	"image-compressor-go/internal/preview"
	"image-compressor-go/internal/uploader"
	"image-compressor-go/internal/validation"

	"github.com/sirupsen/logrus"
)

var (
	ErrNoSource  = errors.New("no image selected")
	ErrNoOutcome = errors.New("no compressed image to upload")
	// ErrStale is returned when the selection changed while an operation ran.
	ErrStale = errors.New("selection changed while the operation was running")
)

// SourceImage is the file the user picked.
type SourceImage struct {
	File     compressor.File
	Preview  preview.Handle
	Size     int64
	Name     string
	Metadata extractor.Metadata
}

// CompressionOutcome is the immutable result of one successful compression.
type CompressionOutcome struct {
	File                compressor.File
	Preview             preview.Handle
	OriginalSize        int64
	CompressedSize      int64
	ReductionPercentage int
	ElapsedMillis       int64
}

// Uploader stores a compressed artifact remotely.
type Uploader interface {
	Upload(ctx context.Context, f compressor.File) (*uploader.Outcome, error)
}

// View is a read-only copy of the session for presentation.
type View struct {
	Source      *SourceImage
	Outcome     *CompressionOutcome
	Upload      *uploader.Outcome
	Compressing bool
	Progress    int
	LastError   string
}

// Session owns at most one SourceImage and one CompressionOutcome.
type Session struct {
	validator    *validation.Validator
	orchestrator *Orchestrator
	uploader     Uploader
	previews     *preview.Registry
	metadata     extractor.MetadataExtractor
	log          *logrus.Logger

	mu         sync.RWMutex
	source     *SourceImage
	outcome    *CompressionOutcome
	upload     *uploader.Outcome
	generation uint64
}

// Option customises a Session.
type Option func(*Session)

// WithMetadata attaches EXIF metadata from m to every selected source.
func WithMetadata(m extractor.MetadataExtractor) Option {
	return func(s *Session) { s.metadata = m }
}

// New returns an empty Session.
func New(v *validation.Validator, o *Orchestrator, u Uploader, previews *preview.Registry, log *logrus.Logger, opts ...Option) *Session {
	s := &Session{
		validator:    v,
		orchestrator: o,
		uploader:     u,
		previews:     previews,
		log:          log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select validates f and makes it the active source, releasing whatever the
// previous selection held. Rejected files leave the session untouched.
func (s *Session) Select(f compressor.File) (validation.Verdict, error) {
	verdict, src, err := s.prepare(f)
	if err != nil {
		return validation.Verdict{}, err
	}

	s.mu.Lock()
	if s.orchestrator.Busy() {
		s.mu.Unlock()
		s.releaseHandle(src.Preview)
		return validation.Verdict{}, ErrBusy
	}
	s.installLocked(src)
	s.mu.Unlock()

	s.logAdvisory(f.Name, verdict)
	return verdict, nil
}

// PendingCompression is a compression that already holds the orchestrator.
// Run must be called exactly once.
type PendingCompression struct {
	s   *Session
	src SourceImage
	gen uint64
}

// Run compresses the claimed source and stores the outcome. If the selection
// is replaced or reset meanwhile, the outcome is discarded with ErrStale.
func (p *PendingCompression) Run(ctx context.Context) (*CompressionOutcome, error) {
	outcome, err := p.s.orchestrator.run(ctx, p.src)
	if err != nil {
		return nil, err
	}
	return p.s.store(outcome, p.gen)
}

// StartCompress selects f and claims the orchestrator for it in one step, so
// no other selection or compression can slip in before Run.
func (s *Session) StartCompress(f compressor.File) (validation.Verdict, *PendingCompression, error) {
	verdict, src, err := s.prepare(f)
	if err != nil {
		return validation.Verdict{}, nil, err
	}

	s.mu.Lock()
	if err := s.orchestrator.claim(); err != nil {
		s.mu.Unlock()
		s.releaseHandle(src.Preview)
		return validation.Verdict{}, nil, err
	}
	s.installLocked(src)
	pending := &PendingCompression{s: s, src: *src, gen: s.generation}
	s.mu.Unlock()

	s.logAdvisory(f.Name, verdict)
	return verdict, pending, nil
}

// Compress compresses the active source and stores the outcome.
func (s *Session) Compress(ctx context.Context) (*CompressionOutcome, error) {
	s.mu.Lock()
	if s.source == nil {
		s.mu.Unlock()
		return nil, ErrNoSource
	}
	if err := s.orchestrator.claim(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	pending := &PendingCompression{s: s, src: *s.source, gen: s.generation}
	s.mu.Unlock()

	return pending.Run(ctx)
}

// SelectAndCompress is the select-then-compress flow triggered by a user pick.
func (s *Session) SelectAndCompress(ctx context.Context, f compressor.File) (validation.Verdict, *CompressionOutcome, error) {
	verdict, pending, err := s.StartCompress(f)
	if err != nil {
		return verdict, nil, err
	}
	outcome, err := pending.Run(ctx)
	return verdict, outcome, err
}

// prepare validates f and builds its SourceImage without touching the session.
func (s *Session) prepare(f compressor.File) (validation.Verdict, *SourceImage, error) {
	verdict, err := s.validator.Validate(validation.Candidate{
		Name:     f.Name,
		MIMEType: f.MIMEType,
		Size:     f.Size(),
		Content:  bytes.NewReader(f.Data),
	})
	if err != nil {
		logger.WithImage(s.log, f.Name, "select").WithError(err).Info("File rejected")
		return validation.Verdict{}, nil, err
	}
	if s.orchestrator.Busy() {
		return validation.Verdict{}, nil, ErrBusy
	}

	src := &SourceImage{
		File:    f,
		Preview: s.previews.Acquire(f.Data, f.MIMEType),
		Size:    f.Size(),
		Name:    f.Name,
	}
	if s.metadata != nil {
		src.Metadata = s.metadata.Extract(f.Name, f.Data, f.ModTime)
	}
	return verdict, src, nil
}

// installLocked replaces the active source. Callers hold s.mu.
func (s *Session) installLocked(src *SourceImage) {
	s.releaseLocked()
	s.source = src
	s.generation++
	s.orchestrator.clearError()
}

func (s *Session) store(outcome *CompressionOutcome, gen uint64) (*CompressionOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		s.releaseHandle(outcome.Preview)
		return nil, ErrStale
	}
	if s.outcome != nil {
		s.releaseHandle(s.outcome.Preview)
	}
	s.outcome = outcome
	s.upload = nil
	return outcome, nil
}

func (s *Session) logAdvisory(name string, verdict validation.Verdict) {
	if verdict.Advisory != "" {
		logger.WithImage(s.log, name, "select").Info(verdict.Advisory)
	}
}

// Upload sends the current outcome's artifact to storage.
func (s *Session) Upload(ctx context.Context) (*uploader.Outcome, error) {
	s.mu.RLock()
	outcome := s.outcome
	gen := s.generation
	s.mu.RUnlock()
	if outcome == nil {
		return nil, ErrNoOutcome
	}

	res, err := s.uploader.Upload(ctx, outcome.File)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || s.outcome != outcome {
		return res, ErrStale
	}
	s.upload = res
	return res, nil
}

// Reset clears the session, releasing every live preview exactly once.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked()
	s.generation++
}

// Close releases everything the session holds.
func (s *Session) Close() error {
	s.Reset()
	return nil
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() View {
	s.mu.RLock()
	v := View{}
	if s.source != nil {
		src := *s.source
		v.Source = &src
	}
	if s.outcome != nil {
		out := *s.outcome
		v.Outcome = &out
	}
	if s.upload != nil {
		up := *s.upload
		v.Upload = &up
	}
	s.mu.RUnlock()

	v.Compressing = s.orchestrator.Busy()
	v.Progress = s.orchestrator.Progress()
	v.LastError = s.orchestrator.LastError()
	return v
}

// releaseLocked drops source, outcome and upload. Callers hold s.mu.
func (s *Session) releaseLocked() {
	if s.source != nil {
		s.releaseHandle(s.source.Preview)
		s.source = nil
	}
	if s.outcome != nil {
		s.releaseHandle(s.outcome.Preview)
		s.outcome = nil
	}
	s.upload = nil
}

func (s *Session) releaseHandle(h preview.Handle) {
	if err := s.previews.Release(h); err != nil {
		s.log.WithError(err).WithField("preview", string(h)).Warn("Failed to release preview")
	}
}
