package extractor

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"image-compressor-go/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exifSegment builds a minimal little-endian APP1 block with Orientation and DateTime.
func exifSegment(orientation uint16, dateTime string) []byte {
	dt := append([]byte(dateTime), 0)
	tiff := &bytes.Buffer{}
	le := binary.LittleEndian
	tiff.WriteString("II")
	binary.Write(tiff, le, uint16(42))
	binary.Write(tiff, le, uint32(8))
	binary.Write(tiff, le, uint16(2))
	// Orientation, SHORT, 1 value inline.
	binary.Write(tiff, le, uint16(0x0112))
	binary.Write(tiff, le, uint16(3))
	binary.Write(tiff, le, uint32(1))
	binary.Write(tiff, le, uint16(orientation))
	binary.Write(tiff, le, uint16(0))
	// DateTime, ASCII, stored after the IFD.
	binary.Write(tiff, le, uint16(0x0132))
	binary.Write(tiff, le, uint16(2))
	binary.Write(tiff, le, uint32(len(dt)))
	binary.Write(tiff, le, uint32(8+2+2*12+4))
	binary.Write(tiff, le, uint32(0))
	tiff.Write(dt)

	seg := &bytes.Buffer{}
	seg.Write([]byte{0xFF, 0xE1})
	binary.Write(seg, binary.BigEndian, uint16(2+6+tiff.Len()))
	seg.WriteString("Exif\x00\x00")
	seg.Write(tiff.Bytes())
	return seg.Bytes()
}

// withEXIF splices an EXIF block right after the JPEG SOI marker.
func withEXIF(jpegData []byte, orientation uint16, dateTime string) []byte {
	out := append([]byte{}, jpegData[:2]...)
	out = append(out, exifSegment(orientation, dateTime)...)
	return append(out, jpegData[2:]...)
}

func TestExtractReadsOrientationAndDate(t *testing.T) {
	data := withEXIF([]byte{0xFF, 0xD8, 0xFF, 0xD9}, 6, "2023:05:17 10:30:00")
	e := NewEXIFExtractor(logger.Discard())

	meta := e.Extract("rotated.jpg", data, time.Time{})
	assert.Equal(t, 6, meta.Orientation)
	require.NotNil(t, meta.Taken)
	assert.Equal(t, "2023:05:17 10:30:00", meta.Taken.Format("2006:01:02 15:04:05"))
	assert.Equal(t, DateSourceEXIFDateTime, meta.Source)
	assert.Empty(t, meta.Camera)
}

func TestExtractFallsBackToModTime(t *testing.T) {
	e := NewEXIFExtractor(logger.Discard())
	mod := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	meta := e.Extract("plain.png", []byte("no exif here"), mod)
	assert.Zero(t, meta.Orientation)
	require.NotNil(t, meta.Taken)
	assert.True(t, mod.Equal(*meta.Taken))
	assert.Equal(t, DateSourceFileModTime, meta.Source)
	assert.Equal(t, "File Modification Time", meta.Source.String())

	meta = e.Extract("plain2.png", []byte("no exif here"), time.Time{})
	assert.Nil(t, meta.Taken)
	assert.Equal(t, DateSourceUnknown, meta.Source)
}

func TestExtractCachesByContent(t *testing.T) {
	e := NewEXIFExtractor(logger.Discard())
	data := withEXIF([]byte{0xFF, 0xD8, 0xFF, 0xD9}, 3, "2022:01:01 00:00:00")

	e.Extract("a.jpg", data, time.Time{})
	e.Extract("a.jpg", data, time.Time{})
	other := e.Extract("a.jpg", withEXIF([]byte{0xFF, 0xD8, 0xFF, 0xD9}, 8, "2022:01:01 00:00:00"), time.Time{})
	assert.Equal(t, 8, other.Orientation)

	stats := e.GetCacheStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
	assert.Equal(t, 2, stats.Size)
	assert.InDelta(t, 1.0/3, stats.HitRate, 0.001)

	e.ClearCache()
	assert.Equal(t, CacheStats{}, e.GetCacheStats())
}

func TestParseEXIFDateTime(t *testing.T) {
	e := NewEXIFExtractor(logger.Discard())
	tests := []struct {
		in   string
		want string
	}{
		{"2023:05:17 10:30:00", "2023-05-17 10:30:00"},
		{"2023-05-17 10:30:00", "2023-05-17 10:30:00"},
		{"2023:05:17", "2023-05-17 00:00:00"},
		{"2023:05:17 10:30:00\x00", "2023-05-17 10:30:00"},
	}
	for _, tt := range tests {
		got := e.parseEXIFDateTime(tt.in)
		require.NotNil(t, got, tt.in)
		assert.Equal(t, tt.want, got.Format("2006-01-02 15:04:05"))
	}
	assert.Nil(t, e.parseEXIFDateTime(""))
	assert.Nil(t, e.parseEXIFDateTime("yesterday"))
}
