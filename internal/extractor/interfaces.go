package extractor

import (
	"time"
)

// MetadataExtractor reads embedded metadata from in-memory image bytes.
type MetadataExtractor interface {
	Extract(name string, data []byte, modTime time.Time) Metadata
}

// CachedMetadataExtractor extends MetadataExtractor with caching capabilities.
type CachedMetadataExtractor interface {
	MetadataExtractor
	ClearCache()
	GetCacheStats() CacheStats
}

// CacheStats contains statistics about cache performance.
type CacheStats struct {
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	Size         int     `json:"size"`
	HitRate      float64 `json:"hit_rate"`
	TotalQueries int64   `json:"total_queries"`
}

// DateSource represents the source of the extracted date.
type DateSource int

const (
	DateSourceUnknown DateSource = iota
	DateSourceEXIFDateTime
	DateSourceEXIFDateTimeOriginal
	DateSourceEXIFDateTimeDigitized
	DateSourceFileModTime
)

// Metadata is what the extractor could learn about one image.
type Metadata struct {
	// Orientation is the EXIF orientation tag (1-8), 0 when absent.
	Orientation int
	Taken       *time.Time
	Source      DateSource
	Camera      string
}

// String returns a human-readable description of the date source.
func (ds DateSource) String() string {
	switch ds {
	case DateSourceEXIFDateTime:
		return "EXIF DateTime"
	case DateSourceEXIFDateTimeOriginal:
		return "EXIF DateTimeOriginal"
	case DateSourceEXIFDateTimeDigitized:
		return "EXIF DateTimeDigitized"
	case DateSourceFileModTime:
		return "File Modification Time"
	default:
		return "Unknown"
	}
}
