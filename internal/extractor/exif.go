package extractor

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"
)

// EXIFExtractor reads orientation, capture date and camera from EXIF data.
// It is safe for concurrent use.
type EXIFExtractor struct {
	log *logrus.Logger

	mu      sync.RWMutex
	entries *sync.Map
	hits    int64
	misses  int64
	size    int
}

// NewEXIFExtractor returns an EXIFExtractor with an empty cache.
func NewEXIFExtractor(log *logrus.Logger) *EXIFExtractor {
	return &EXIFExtractor{log: log, entries: &sync.Map{}}
}

// Extract returns the metadata of data. Images without EXIF fall back to
// modTime for the date; a zero modTime leaves Taken nil.
func (e *EXIFExtractor) Extract(name string, data []byte, modTime time.Time) Metadata {
	e.mu.RLock()
	entries := e.entries
	e.mu.RUnlock()

	key := cacheKey(name, data, modTime)
	if value, ok := entries.Load(key); ok {
		e.record(true, false)
		return value.(Metadata)
	}

	meta, err := e.decode(data)
	if err != nil {
		e.log.WithField("image", name).Debugf("No EXIF metadata: %v", err)
	}
	if meta.Taken == nil && !modTime.IsZero() {
		t := modTime
		meta.Taken = &t
		meta.Source = DateSourceFileModTime
	}

	_, loaded := entries.LoadOrStore(key, meta)
	e.record(false, !loaded)
	return meta
}

// ClearCache drops every cached entry and zeroes the counters.
func (e *EXIFExtractor) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = &sync.Map{}
	e.hits, e.misses, e.size = 0, 0, 0
}

// GetCacheStats reports cache effectiveness since the last ClearCache.
func (e *EXIFExtractor) GetCacheStats() CacheStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	total := e.hits + e.misses
	stats := CacheStats{Hits: e.hits, Misses: e.misses, Size: e.size, TotalQueries: total}
	if total > 0 {
		stats.HitRate = float64(e.hits) / float64(total)
	}
	return stats
}

func (e *EXIFExtractor) record(hit, stored bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if hit {
		e.hits++
	} else {
		e.misses++
	}
	if stored {
		e.size++
	}
}

// decode reads the EXIF block with rwcarlsen/goexif.
func (e *EXIFExtractor) decode(data []byte) (Metadata, error) {
	var meta Metadata

	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return meta, fmt.Errorf("failed to decode EXIF: %w", err)
	}

	if tag, err := x.Get(exif.Orientation); err == nil {
		if v, err := tag.Int(0); err == nil && v >= 1 && v <= 8 {
			meta.Orientation = v
		}
	}

	if tm, err := x.DateTime(); err == nil {
		meta.Taken, meta.Source = &tm, DateSourceEXIFDateTime
	} else {
		for _, f := range []struct {
			name   exif.FieldName
			source DateSource
		}{
			{exif.DateTimeOriginal, DateSourceEXIFDateTimeOriginal},
			{exif.DateTimeDigitized, DateSourceEXIFDateTimeDigitized},
		} {
			if date := e.dateField(x, f.name); date != nil {
				meta.Taken, meta.Source = date, f.source
				break
			}
		}
	}

	var camera []string
	for _, name := range []exif.FieldName{exif.Make, exif.Model} {
		if tag, err := x.Get(name); err == nil {
			if s, err := tag.StringVal(); err == nil && strings.TrimSpace(s) != "" {
				camera = append(camera, strings.TrimSpace(s))
			}
		}
	}
	meta.Camera = strings.Join(camera, " ")

	return meta, nil
}

func (e *EXIFExtractor) dateField(x *exif.Exif, name exif.FieldName) *time.Time {
	field, err := x.Get(name)
	if err != nil {
		return nil
	}
	dateStr, err := field.StringVal()
	if err != nil {
		return nil
	}
	return e.parseEXIFDateTime(dateStr)
}

// parseEXIFDateTime accepts the EXIF layout and a few common variants.
func (e *EXIFExtractor) parseEXIFDateTime(raw string) *time.Time {
	raw = strings.TrimRight(strings.TrimSpace(raw), "\x00")
	if raw == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	e.log.Debugf("Unrecognised EXIF date %q", raw)
	return nil
}

var dateLayouts = []string{
	"2006:01:02 15:04:05",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	"2006:01:02",
	"2006-01-02",
}

// cacheKey identifies an image by name, size, modification time and content hash.
func cacheKey(name string, data []byte, modTime time.Time) string {
	h := fnv.New64a()
	h.Write(data)
	return fmt.Sprintf("%s:%d:%d:%x", name, len(data), modTime.UnixNano(), h.Sum64())
}
