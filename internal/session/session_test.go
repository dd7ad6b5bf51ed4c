package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"image-compressor-go/internal/compressor"
	"image-compressor-go/internal/config"
	"image-compressor-go/internal/extractor"
	"image-compressor-go/internal/logger"
	"image-compressor-go/internal/preview"
	"image-compressor-go/internal/uploader"
	"image-compressor-go/internal/validation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCompressor halves the input and replays a fixed progress script.
type fakeCompressor struct {
	mu       sync.Mutex
	calls    int
	progress []float64
	err      error
	block    chan struct{}
	started  chan struct{}
}

func (f *fakeCompressor) Compress(ctx context.Context, src compressor.File, _ compressor.Options, onProgress compressor.ProgressFunc) (*compressor.File, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	for _, p := range f.progress {
		onProgress(p)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &compressor.File{Name: src.Name, MIMEType: src.MIMEType, Data: src.Data[:len(src.Data)/2]}, nil
}

func (f *fakeCompressor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type countingStorage struct {
	calls int
}

func (c *countingStorage) Upload(_ context.Context, _, name string, r io.Reader, _ int64, _ uploader.UploadOptions) (string, error) {
	c.calls++
	_, _ = io.Copy(io.Discard, r)
	return name, nil
}

func (c *countingStorage) PublicURL(bucket, path string) string {
	return "https://storage.example.com/" + bucket + "/" + path
}

func steppingClock(step time.Duration) func() time.Time {
	var mu sync.Mutex
	t := time.Unix(1_700_000_000, 0)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(step)
		return t
	}
}

type harness struct {
	session    *Session
	compressor *fakeCompressor
	previews   *preview.Registry
	progress   []int
	mu         sync.Mutex
}

func newHarness(t *testing.T, fc *fakeCompressor, store uploader.Storage) *harness {
	t.Helper()
	cfg := config.DefaultConfig()
	log := logger.Discard()
	h := &harness{compressor: fc, previews: preview.NewRegistry()}

	orch := NewOrchestrator(fc, compressor.OptionsFromConfig(cfg.Compression), h.previews, log,
		WithClock(steppingClock(25*time.Millisecond)),
		WithProgressObserver(func(p int) {
			h.mu.Lock()
			h.progress = append(h.progress, p)
			h.mu.Unlock()
		}),
	)
	up := uploader.NewAdapter(store, cfg.Storage, log)
	h.session = New(validation.New(cfg.Validation), orch, up, h.previews, log)
	return h
}

func (h *harness) observed() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int(nil), h.progress...)
}

func imageFile(name, mime string, size int) compressor.File {
	return compressor.File{Name: name, MIMEType: mime, Data: make([]byte, size)}
}

func TestSelectAndCompressLargeJPEG(t *testing.T) {
	h := newHarness(t, &fakeCompressor{progress: []float64{10, 45, 80, 100}}, nil)

	verdict, outcome, err := h.session.SelectAndCompress(context.Background(), imageFile("holiday.jpg", "image/jpeg", 2_000_000))
	require.NoError(t, err)
	assert.Empty(t, verdict.Advisory)

	assert.Less(t, outcome.CompressedSize, int64(2_000_000))
	assert.Equal(t, int64(2_000_000), outcome.OriginalSize)
	assert.Equal(t, 50, outcome.ReductionPercentage)
	assert.GreaterOrEqual(t, outcome.ReductionPercentage, 0)
	assert.Greater(t, outcome.ElapsedMillis, int64(0))
	assert.NotEmpty(t, outcome.Preview)

	view := h.session.Snapshot()
	require.NotNil(t, view.Source)
	require.NotNil(t, view.Outcome)
	assert.Equal(t, "holiday.jpg", view.Source.Name)
	assert.False(t, view.Compressing)
	assert.Equal(t, 0, view.Progress)
	assert.Equal(t, 2, h.previews.Live())
}

func TestSmallPNGGetsAdvisoryAndStillCompresses(t *testing.T) {
	h := newHarness(t, &fakeCompressor{}, nil)

	verdict, outcome, err := h.session.SelectAndCompress(context.Background(), imageFile("icon.png", "image/png", 50_000))
	require.NoError(t, err)
	assert.Equal(t, validation.AdvisorySmallImage, verdict.Advisory)
	require.NotNil(t, outcome)
	assert.Equal(t, int64(25_000), outcome.CompressedSize)
}

func TestRejectedFilesNeverReachCompressor(t *testing.T) {
	fc := &fakeCompressor{}
	h := newHarness(t, fc, nil)

	_, _, err := h.session.SelectAndCompress(context.Background(), imageFile("huge.jpg", "image/jpeg", 15*1024*1024))
	assert.ErrorIs(t, err, validation.ErrTooLarge)

	_, _, err = h.session.SelectAndCompress(context.Background(), imageFile("notes.txt", "text/plain", 2000))
	assert.ErrorIs(t, err, validation.ErrNotImage)

	assert.Equal(t, 0, fc.Calls())
	assert.Nil(t, h.session.Snapshot().Source)
	assert.Equal(t, 0, h.previews.Live())
}

func TestProgressIsMonotonicAndBounded(t *testing.T) {
	h := newHarness(t, &fakeCompressor{progress: []float64{-5, 12.4, 40, 35, 70, 250, 90}}, nil)

	_, _, err := h.session.SelectAndCompress(context.Background(), imageFile("a.jpg", "image/jpeg", 500_000))
	require.NoError(t, err)

	got := h.observed()
	require.NotEmpty(t, got)
	last := len(got) - 1
	assert.Equal(t, 0, got[last], "progress resets after completion")
	for i, p := range got[:last] {
		assert.GreaterOrEqual(t, p, 0)
		assert.LessOrEqual(t, p, 100)
		if i > 0 {
			assert.GreaterOrEqual(t, p, got[i-1])
		}
	}
	assert.Equal(t, []int{0, 12, 40, 70, 100, 0}, got)
}

func TestCompressionFailureKeepsSelection(t *testing.T) {
	fc := &fakeCompressor{progress: []float64{20}, err: errors.New("unsupported image")}
	h := newHarness(t, fc, nil)

	_, outcome, err := h.session.SelectAndCompress(context.Background(), imageFile("bad.jpg", "image/jpeg", 300_000))
	assert.Nil(t, outcome)
	var cerr *CompressionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "unsupported image", cerr.Message)

	view := h.session.Snapshot()
	assert.NotNil(t, view.Source)
	assert.Nil(t, view.Outcome)
	assert.Equal(t, 0, view.Progress)
	assert.False(t, view.Compressing)
	assert.Equal(t, "unsupported image", view.LastError)
	assert.Equal(t, 1, h.previews.Live(), "only the source preview is live")

	// Retry with the same selection works once the routine recovers.
	fc.err = nil
	outcome, err = h.session.Compress(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, outcome)
	assert.Empty(t, h.session.Snapshot().LastError)
}

func TestCompressionFailureWithoutMessage(t *testing.T) {
	h := newHarness(t, &fakeCompressor{err: errors.New("")}, nil)

	_, _, err := h.session.SelectAndCompress(context.Background(), imageFile("x.jpg", "image/jpeg", 300_000))
	require.Error(t, err)
	assert.Equal(t, "Compression failed", err.Error())
}

func TestResetReleasesPreviewsExactlyOnce(t *testing.T) {
	h := newHarness(t, &fakeCompressor{}, nil)

	_, outcome, err := h.session.SelectAndCompress(context.Background(), imageFile("a.jpg", "image/jpeg", 400_000))
	require.NoError(t, err)
	srcHandle := h.session.Snapshot().Source.Preview

	h.session.Reset()
	assert.Equal(t, 0, h.previews.Live())
	assert.ErrorIs(t, h.previews.Release(srcHandle), preview.ErrReleased)
	assert.ErrorIs(t, h.previews.Release(outcome.Preview), preview.ErrReleased)

	// A second reset has nothing left to release.
	h.session.Reset()
	assert.Equal(t, 0, h.previews.Live())

	view := h.session.Snapshot()
	assert.Nil(t, view.Source)
	assert.Nil(t, view.Outcome)
	assert.Nil(t, view.Upload)
}

func TestNewSelectionReleasesPrevious(t *testing.T) {
	h := newHarness(t, &fakeCompressor{}, nil)

	_, _, err := h.session.SelectAndCompress(context.Background(), imageFile("a.jpg", "image/jpeg", 400_000))
	require.NoError(t, err)
	old := h.session.Snapshot()

	_, err = h.session.Select(imageFile("b.jpg", "image/jpeg", 400_000))
	require.NoError(t, err)

	assert.Equal(t, 1, h.previews.Live())
	assert.ErrorIs(t, h.previews.Release(old.Source.Preview), preview.ErrReleased)
	assert.ErrorIs(t, h.previews.Release(old.Outcome.Preview), preview.ErrReleased)
	assert.Nil(t, h.session.Snapshot().Outcome)
}

func TestSingleCompressionInFlight(t *testing.T) {
	fc := &fakeCompressor{block: make(chan struct{}), started: make(chan struct{}, 1)}
	h := newHarness(t, fc, nil)

	_, err := h.session.Select(imageFile("a.jpg", "image/jpeg", 400_000))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := h.session.Compress(context.Background())
		done <- err
	}()
	<-fc.started

	assert.True(t, h.session.Snapshot().Compressing)
	_, err = h.session.Compress(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	_, err = h.session.Select(imageFile("b.jpg", "image/jpeg", 400_000))
	assert.ErrorIs(t, err, ErrBusy)

	close(fc.block)
	require.NoError(t, <-done)
	assert.Equal(t, 1, fc.Calls())
}

func TestResetDuringCompressionDiscardsOutcome(t *testing.T) {
	fc := &fakeCompressor{block: make(chan struct{}), started: make(chan struct{}, 1)}
	h := newHarness(t, fc, nil)

	_, err := h.session.Select(imageFile("a.jpg", "image/jpeg", 400_000))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := h.session.Compress(context.Background())
		done <- err
	}()
	<-fc.started
	h.session.Reset()
	close(fc.block)

	assert.ErrorIs(t, <-done, ErrStale)
	assert.Equal(t, 0, h.previews.Live())
	assert.Nil(t, h.session.Snapshot().Outcome)
}

func TestUploadRequiresOutcome(t *testing.T) {
	h := newHarness(t, &fakeCompressor{}, &countingStorage{})
	_, err := h.session.Upload(context.Background())
	assert.ErrorIs(t, err, ErrNoOutcome)
}

func TestUploadWithoutStorageMakesNoCalls(t *testing.T) {
	h := newHarness(t, &fakeCompressor{}, nil)

	_, _, err := h.session.SelectAndCompress(context.Background(), imageFile("a.jpg", "image/jpeg", 400_000))
	require.NoError(t, err)

	_, err = h.session.Upload(context.Background())
	assert.ErrorIs(t, err, uploader.ErrNotConfigured)
	assert.Nil(t, h.session.Snapshot().Upload)
}

func TestUploadTwiceGivesDistinctPaths(t *testing.T) {
	store := &countingStorage{}
	h := newHarness(t, &fakeCompressor{}, store)

	_, _, err := h.session.SelectAndCompress(context.Background(), imageFile("a.jpg", "image/jpeg", 400_000))
	require.NoError(t, err)

	first, err := h.session.Upload(context.Background())
	require.NoError(t, err)
	second, err := h.session.Upload(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, first.Path, second.Path)
	assert.Equal(t, 2, store.calls)
	assert.Equal(t, second.Path, h.session.Snapshot().Upload.Path)
}

func TestProgressStatus(t *testing.T) {
	assert.Equal(t, "Analyzing image...", ProgressStatus(0))
	assert.Equal(t, "Analyzing image...", ProgressStatus(29))
	assert.Equal(t, "Compressing...", ProgressStatus(30))
	assert.Equal(t, "Compressing...", ProgressStatus(69))
	assert.Equal(t, "Almost done...", ProgressStatus(70))
	assert.Equal(t, "Almost done...", ProgressStatus(99))
	assert.Equal(t, "Complete!", ProgressStatus(100))
}

type recordingMetadata struct {
	names []string
}

func (r *recordingMetadata) Extract(name string, _ []byte, modTime time.Time) extractor.Metadata {
	r.names = append(r.names, name)
	return extractor.Metadata{Orientation: 6, Taken: &modTime, Source: extractor.DateSourceFileModTime, Camera: "Test Cam"}
}

func TestSelectAttachesMetadata(t *testing.T) {
	h := newHarness(t, &fakeCompressor{}, nil)
	meta := &recordingMetadata{}
	WithMetadata(meta)(h.session)

	f := imageFile("portrait.jpg", "image/jpeg", 300_000)
	f.ModTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	_, err := h.session.Select(f)
	require.NoError(t, err)

	src := h.session.Snapshot().Source
	require.NotNil(t, src)
	assert.Equal(t, 6, src.Metadata.Orientation)
	assert.Equal(t, "Test Cam", src.Metadata.Camera)
	assert.True(t, f.ModTime.Equal(*src.Metadata.Taken))
	assert.Equal(t, []string{"portrait.jpg"}, meta.names)

	_, err = h.session.Select(imageFile("notes.txt", "text/plain", 10))
	require.Error(t, err)
	assert.Len(t, meta.names, 1, "rejected files are not inspected")
}

func TestStartCompressClaimsBeforeRun(t *testing.T) {
	fc := &fakeCompressor{}
	h := newHarness(t, fc, nil)

	_, pending, err := h.session.StartCompress(imageFile("first.jpg", "image/jpeg", 400_000))
	require.NoError(t, err)
	assert.True(t, h.session.Snapshot().Compressing)

	_, _, err = h.session.StartCompress(imageFile("second.jpg", "image/jpeg", 400_000))
	assert.ErrorIs(t, err, ErrBusy)
	_, err = h.session.Select(imageFile("third.jpg", "image/jpeg", 400_000))
	assert.ErrorIs(t, err, ErrBusy)
	_, err = h.session.Compress(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, 1, h.previews.Live(), "rejected picks release their previews")

	outcome, err := pending.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first.jpg", outcome.File.Name)

	view := h.session.Snapshot()
	assert.Equal(t, "first.jpg", view.Source.Name)
	assert.False(t, view.Compressing)
	assert.Equal(t, 1, fc.Calls())
}

func TestSelectClearsPreviousFailure(t *testing.T) {
	fc := &fakeCompressor{err: errors.New("unsupported image")}
	h := newHarness(t, fc, nil)

	_, _, err := h.session.SelectAndCompress(context.Background(), imageFile("bad.jpg", "image/jpeg", 300_000))
	require.Error(t, err)
	require.Equal(t, "unsupported image", h.session.Snapshot().LastError)

	_, err = h.session.Select(imageFile("good.jpg", "image/jpeg", 300_000))
	require.NoError(t, err)
	assert.Empty(t, h.session.Snapshot().LastError)
}

func TestOrchestratorRejectsConcurrentCompress(t *testing.T) {
	fc := &fakeCompressor{block: make(chan struct{}), started: make(chan struct{}, 1)}
	h := newHarness(t, fc, nil)
	orch := h.session.orchestrator
	src := SourceImage{File: imageFile("a.jpg", "image/jpeg", 1000), Size: 1000, Name: "a.jpg"}

	done := make(chan error, 1)
	go func() {
		out, err := orch.Compress(context.Background(), src)
		if err == nil {
			err = h.previews.Release(out.Preview)
		}
		done <- err
	}()
	<-fc.started

	_, err := orch.Compress(context.Background(), src)
	assert.ErrorIs(t, err, ErrBusy)

	close(fc.block)
	require.NoError(t, <-done)
	assert.False(t, orch.Busy())
}
