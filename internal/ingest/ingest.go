package ingest

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hpungsan/perch/internal/errors"
	"github.com/hpungsan/perch/internal/extract"
	"github.com/hpungsan/perch/internal/payload"
)

// TruncationMarker is appended to a preview that was cut.
const TruncationMarker = "\n…"

// Preview kinds.
const (
	KindText   = "text"
	KindImages = "images"
)

// NormalizedPreview is the UI-facing summary of one ingestion.
// TotalBytes and FileCount are pre-truncation totals.
type NormalizedPreview struct {
	Kind       string   `json:"kind"`
	Preview    string   `json:"preview"`
	TotalBytes int      `json:"total_bytes"`
	FileCount  int      `json:"file_count"`
	Names      []string `json:"names"`
}

// Options carries the caps for ingestion and analysis.
type Options struct {
	PreviewChars int
	Ingest       extract.Limits
	Analysis     extract.Limits
}

// BuildTextPreview keeps the first budget characters of buffer and appends
// TruncationMarker only when the buffer is longer than that.
func BuildTextPreview(buffer string, total, count int, names []string, budget int) *NormalizedPreview {
	preview := buffer
	if utf8.RuneCountInString(buffer) > budget {
		preview = firstRunes(buffer, budget) + TruncationMarker
	}
	return &NormalizedPreview{
		Kind:       KindText,
		Preview:    preview,
		TotalBytes: total,
		FileCount:  count,
		Names:      copyNames(names),
	}
}

// BuildImagePreview summarizes an image batch on one line.
func BuildImagePreview(names []string, total int) *NormalizedPreview {
	return &NormalizedPreview{
		Kind:       KindImages,
		Preview:    fmt.Sprintf("%d image(s): %s", len(names), strings.Join(names, ", ")),
		TotalBytes: total,
		FileCount:  len(names),
		Names:      copyNames(names),
	}
}

// Ingest extracts a payload under the ingestion caps and builds its preview.
func Ingest(p *payload.LaunchPayload, opts Options) (*NormalizedPreview, error) {
	if p == nil || p.Context == nil {
		return nil, errors.NewInvalidRequest("payload is required")
	}

	switch c := p.Context.(type) {
	case payload.Files:
		batch, err := extract.IngestText(c.Files, opts.Ingest)
		if err != nil {
			return nil, err
		}
		return BuildTextPreview(batch.Text, batch.TotalBytes, batch.FileCount, batch.Names, opts.PreviewChars), nil
	case payload.Images:
		batch := extract.IngestImages(c.Images, opts.Ingest)
		return BuildImagePreview(batch.Names, batch.TotalBytes), nil
	default:
		return nil, errors.NewInternal(fmt.Errorf("unhandled launch context %T", p.Context))
	}
}

func firstRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func copyNames(names []string) []string {
	out := make([]string, len(names))
	copy(out, names)
	return out
}
