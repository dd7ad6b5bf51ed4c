package web

import (
	"time"

	"image-compressor-go/internal/preview"
	"image-compressor-go/internal/session"
	"image-compressor-go/internal/statistics"
	"image-compressor-go/internal/uploader"
)

type sourceView struct {
	Name        string     `json:"name"`
	MIMEType    string     `json:"mime_type"`
	Size        int64      `json:"size"`
	SizeHuman   string     `json:"size_human"`
	PreviewURL  string     `json:"preview_url"`
	Taken       *time.Time `json:"taken,omitempty"`
	TakenSource string     `json:"taken_source,omitempty"`
	Camera      string     `json:"camera,omitempty"`
	Orientation int        `json:"orientation,omitempty"`
}

type outcomeView struct {
	Name                string  `json:"name"`
	MIMEType            string  `json:"mime_type"`
	OriginalSize        int64   `json:"original_size"`
	CompressedSize      int64   `json:"compressed_size"`
	OriginalHuman       string  `json:"original_size_human"`
	CompressedHuman     string  `json:"compressed_size_human"`
	ReductionPercentage int     `json:"reduction_percentage"`
	CompressionTimeMS   int64   `json:"compression_time_ms"`
	CompressionTime     string  `json:"compression_time"`
	StorageSaved        int64   `json:"storage_saved"`
	StorageSavedHuman   string  `json:"storage_saved_human"`
	Multiplier          float64 `json:"multiplier"`
	PreviewURL          string  `json:"preview_url"`
}

type sessionView struct {
	Source  *sourceView       `json:"source,omitempty"`
	Outcome *outcomeView      `json:"outcome,omitempty"`
	Upload  *uploader.Outcome `json:"upload,omitempty"`
}

func previewURL(h preview.Handle) string {
	return "/previews/" + h.ID()
}

func renderOutcome(o *session.CompressionOutcome) *outcomeView {
	if o == nil {
		return nil
	}
	saved := statistics.StorageSaved(o.OriginalSize, o.CompressedSize)
	return &outcomeView{
		Name:                o.File.Name,
		MIMEType:            o.File.MIMEType,
		OriginalSize:        o.OriginalSize,
		CompressedSize:      o.CompressedSize,
		OriginalHuman:       statistics.FormatSize(o.OriginalSize),
		CompressedHuman:     statistics.FormatSize(o.CompressedSize),
		ReductionPercentage: o.ReductionPercentage,
		CompressionTimeMS:   o.ElapsedMillis,
		CompressionTime:     statistics.FormatSeconds(o.ElapsedMillis),
		StorageSaved:        saved,
		StorageSavedHuman:   statistics.FormatSize(saved),
		Multiplier:          statistics.Multiplier(o.OriginalSize, o.CompressedSize),
		PreviewURL:          previewURL(o.Preview),
	}
}

func renderView(v session.View) sessionView {
	out := sessionView{
		Outcome: renderOutcome(v.Outcome),
		Upload:  v.Upload,
	}
	if v.Source != nil {
		meta := v.Source.Metadata
		out.Source = &sourceView{
			Name:        v.Source.Name,
			MIMEType:    v.Source.File.MIMEType,
			Size:        v.Source.Size,
			SizeHuman:   statistics.FormatSize(v.Source.Size),
			PreviewURL:  previewURL(v.Source.Preview),
			Taken:       meta.Taken,
			Camera:      meta.Camera,
			Orientation: meta.Orientation,
		}
		if meta.Taken != nil {
			out.Source.TakenSource = meta.Source.String()
		}
	}
	return out
}
