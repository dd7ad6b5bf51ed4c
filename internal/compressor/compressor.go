package compressor

import (
	"context"
	"encoding/base64"
	"time"

	"image-compressor-go/internal/config"
)

// File is an in-memory image artifact.
type File struct {
	Name     string
	MIMEType string
	Data     []byte
	ModTime  time.Time
}

// Size returns the artifact size in bytes.
func (f File) Size() int64 {
	return int64(len(f.Data))
}

// Options defines the fixed compression target handed to a Compressor.
type Options struct {
	MaxSizeBytes     int64
	MaxWidthOrHeight int
	InitialQuality   int
	MinQuality       int
	QualityStep      int
	MaxIterations    int
	// FileType forces the output format ("jpeg" or "png"); empty keeps the source format.
	FileType string
}

// OptionsFromConfig builds Options from the compression section of the config.
func OptionsFromConfig(cfg config.CompressionConfig) Options {
	return Options{
		MaxSizeBytes:     cfg.MaxOutputBytes(),
		MaxWidthOrHeight: cfg.MaxWidthOrHeight,
		InitialQuality:   cfg.InitialQuality,
		MinQuality:       cfg.MinQuality,
		QualityStep:      cfg.QualityStep,
		MaxIterations:    cfg.MaxIterations,
		FileType:         cfg.FileType,
	}
}

// ProgressFunc receives completion percentages while a compression runs.
type ProgressFunc func(percent float64)

// Compressor defines the interface for image compression.
type Compressor interface {
	// Compress re-encodes src to meet opts, reporting progress through onProgress
	// (which may be nil). The returned file is a new artifact; src is not modified.
	Compress(ctx context.Context, src File, opts Options, onProgress ProgressFunc) (*File, error)
}

// DataURL returns a displayable data URL for f.
func DataURL(f File) string {
	return "data:" + f.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(f.Data)
}
