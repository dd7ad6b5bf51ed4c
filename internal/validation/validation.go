// Package validation decides whether a user-supplied file may enter the
// compression workflow.
package validation

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"image-compressor-go/internal/config"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
)

var (
	ErrNotImage        = errors.New("please select an image file")
	ErrTooLarge        = errors.New("image must be smaller than the size limit")
	ErrContentMismatch = errors.New("file content is not an image")
	ErrInvalid         = errors.New("invalid file")
)

// AdvisorySmallImage is attached to accepted files below the advisory threshold.
const AdvisorySmallImage = "Image is quite small (<100KB). Compression benefits may be minimal."

const sniffBytes = 3072

// Candidate describes a file the user picked, as declared by the client.
type Candidate struct {
	Name     string `validate:"required"`
	MIMEType string
	Size     int64 `validate:"gte=0"`
	// Content is only read when content sniffing is enabled.
	Content io.ReaderAt
}

// Verdict is the outcome for an accepted file.
type Verdict struct {
	Advisory string
}

// Validator checks candidates against type and size constraints.
type Validator struct {
	maxBytes      int64
	advisoryBytes int64
	sniff         bool
	structs       *validator.Validate
}

// New returns a Validator using the limits in cfg.
func New(cfg config.ValidationConfig) *Validator {
	return &Validator{
		maxBytes:      cfg.MaxBytes,
		advisoryBytes: cfg.AdvisoryBytes,
		sniff:         cfg.SniffContent,
		structs:       validator.New(),
	}
}

// Validate accepts or rejects c. Rejections are returned as errors wrapping one
// of the package sentinels; an accepted small file carries an advisory.
func (v *Validator) Validate(c Candidate) (Verdict, error) {
	if err := v.structs.Struct(c); err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if !strings.HasPrefix(strings.ToLower(c.MIMEType), "image/") {
		return Verdict{}, ErrNotImage
	}

	if c.Size > v.maxBytes {
		return Verdict{}, fmt.Errorf("%w (%s > %s)", ErrTooLarge,
			humanize.IBytes(uint64(c.Size)), humanize.IBytes(uint64(v.maxBytes)))
	}

	if v.sniff {
		if err := sniffImage(c); err != nil {
			return Verdict{}, err
		}
	}

	var verdict Verdict
	if c.Size < v.advisoryBytes {
		verdict.Advisory = AdvisorySmallImage
	}
	return verdict, nil
}

func sniffImage(c Candidate) error {
	if c.Content == nil {
		return fmt.Errorf("%w: no content to inspect", ErrContentMismatch)
	}
	n := int64(sniffBytes)
	if c.Size < n {
		n = c.Size
	}
	head := make([]byte, n)
	read, err := c.Content.ReadAt(head, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read header: %w", err)
	}
	detected := mimetype.Detect(head[:read])
	if !strings.HasPrefix(detected.String(), "image/") {
		return fmt.Errorf("%w: detected %s", ErrContentMismatch, detected.String())
	}
	return nil
}
