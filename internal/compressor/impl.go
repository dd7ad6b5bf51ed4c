package compressor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"path/filepath"
	"strings"
	"time"

	"image-compressor-go/internal/extractor"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	_ "golang.org/x/image/webp"
)

const (
	formatJPEG = "jpeg"
	formatPNG  = "png"
)

// Progress checkpoints; encode iterations are spread between stageResized and stageEncoded.
const (
	stageDecoded  = 10.0
	stageResized  = 30.0
	stageEncoded  = 95.0
	stageComplete = 100.0
)

// ImagingCompressor is the default Compressor, built on disintegration/imaging.
type ImagingCompressor struct {
	log      *logrus.Logger
	metadata extractor.MetadataExtractor
}

// NewImagingCompressor creates a new ImagingCompressor instance.
func NewImagingCompressor(log *logrus.Logger) *ImagingCompressor {
	return NewImagingCompressorWithExtractor(log, extractor.NewEXIFExtractor(log))
}

// NewImagingCompressorWithExtractor lets callers share one metadata extractor
// (and its cache) between the compressor and other readers.
func NewImagingCompressorWithExtractor(log *logrus.Logger, metadata extractor.MetadataExtractor) *ImagingCompressor {
	return &ImagingCompressor{log: log, metadata: metadata}
}

// Compress decodes src, applies EXIF orientation, scales it to fit
// MaxWidthOrHeight and re-encodes it until it fits MaxSizeBytes or the
// iteration budget runs out.
func (c *ImagingCompressor) Compress(ctx context.Context, src File, opts Options, onProgress ProgressFunc) (*File, error) {
	report := func(p float64) {
		if onProgress != nil {
			onProgress(p)
		}
	}
	opts = normalizeOptions(opts)
	entry := c.log.WithFields(logrus.Fields{"image": src.Name, "operation": "compress"})

	report(0)
	img, srcFormat, err := image.Decode(bytes.NewReader(src.Data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	report(stageDecoded)

	resized := false
	if orientation := c.metadata.Extract(src.Name, src.Data, src.ModTime).Orientation; orientation > 1 {
		img = applyOrientation(img, orientation)
		resized = true
		entry.Debugf("Applied EXIF orientation %d", orientation)
	}

	if m := opts.MaxWidthOrHeight; m > 0 {
		b := img.Bounds()
		if b.Dx() > m || b.Dy() > m {
			img = imaging.Fit(img, m, m, imaging.Lanczos)
			resized = true
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	report(stageResized)

	outFormat := outputFormat(srcFormat, opts.FileType)

	var data []byte
	switch outFormat {
	case formatPNG:
		data, err = encodePNG(ctx, img, opts, report)
	default:
		data, err = encodeJPEG(ctx, img, opts, report)
	}
	if err != nil {
		return nil, err
	}

	// Re-encoding an already small, untouched image can make it bigger; keep the source then.
	if !resized && outFormat == srcFormat && len(data) >= len(src.Data) {
		entry.Debug("Re-encoded image not smaller than original, keeping original bytes")
		data = src.Data
	}

	report(stageComplete)

	out := &File{
		Name:     renameForFormat(src.Name, srcFormat, outFormat),
		MIMEType: "image/" + outFormat,
		Data:     data,
		ModTime:  time.Now(),
	}
	entry.WithFields(logrus.Fields{
		"original_size":   src.Size(),
		"compressed_size": out.Size(),
		"format":          outFormat,
	}).Debug("Image compressed")
	return out, nil
}

func normalizeOptions(opts Options) Options {
	if opts.InitialQuality <= 0 || opts.InitialQuality > 100 {
		opts.InitialQuality = 80
	}
	if opts.MinQuality <= 0 || opts.MinQuality > opts.InitialQuality {
		opts.MinQuality = min(10, opts.InitialQuality)
	}
	if opts.QualityStep <= 0 {
		opts.QualityStep = 10
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 10
	}
	return opts
}

// encodeJPEG lowers the quality step by step until the output fits.
func encodeJPEG(ctx context.Context, img image.Image, opts Options, report func(float64)) ([]byte, error) {
	quality := opts.InitialQuality
	var buf bytes.Buffer
	for i := 0; i < opts.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		buf.Reset()
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		report(iterationProgress(i, opts.MaxIterations))
		if fits(buf.Len(), opts) || quality == opts.MinQuality {
			break
		}
		quality = max(quality-opts.QualityStep, opts.MinQuality)
	}
	return buf.Bytes(), nil
}

// encodePNG is lossless, so it shrinks dimensions by 10% per pass instead.
func encodePNG(ctx context.Context, img image.Image, opts Options, report func(float64)) ([]byte, error) {
	var buf bytes.Buffer
	for i := 0; i < opts.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		buf.Reset()
		if err := imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression)); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
		report(iterationProgress(i, opts.MaxIterations))
		if fits(buf.Len(), opts) {
			break
		}
		b := img.Bounds()
		w := b.Dx() * 9 / 10
		if w < 1 {
			break
		}
		img = imaging.Resize(img, w, 0, imaging.Lanczos)
	}
	return buf.Bytes(), nil
}

func fits(n int, opts Options) bool {
	return opts.MaxSizeBytes <= 0 || int64(n) <= opts.MaxSizeBytes
}

func iterationProgress(i, total int) float64 {
	return stageResized + (stageEncoded-stageResized)*float64(i+1)/float64(total)
}

// outputFormat keeps JPEG and PNG, and turns everything else into JPEG.
func outputFormat(srcFormat, forced string) string {
	switch forced {
	case formatJPEG, formatPNG:
		return forced
	}
	if srcFormat == formatPNG {
		return formatPNG
	}
	return formatJPEG
}

func renameForFormat(name, srcFormat, outFormat string) string {
	if srcFormat == outFormat {
		return name
	}
	ext := ".jpg"
	if outFormat == formatPNG {
		ext = ".png"
	}
	return strings.TrimSuffix(name, filepath.Ext(name)) + ext
}

func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	}
	return img
}
