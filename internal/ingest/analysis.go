package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/hpungsan/perch/internal/errors"
	"github.com/hpungsan/perch/internal/extract"
	"github.com/hpungsan/perch/internal/payload"
)

// AnalysisSource is what gets sent to the text-generation service.
// Implemented only by TextSource and ImageSource.
type AnalysisSource interface {
	SourceNames() []string
	isAnalysisSource()
}

// TextSource is extracted document text under the analysis cap.
type TextSource struct {
	Text  string
	Names []string
}

// ImageSource is base64 image content under the analysis image cap.
type ImageSource struct {
	ImagesB64 []string
	Names     []string
}

func (s TextSource) SourceNames() []string  { return copyNames(s.Names) }
func (TextSource) isAnalysisSource()        {}
func (s ImageSource) SourceNames() []string { return copyNames(s.Names) }
func (ImageSource) isAnalysisSource()       {}

// MarshalJSON writes {"kind":"text","text":...,"names":[...]}.
func (s TextSource) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind  string   `json:"kind"`
		Text  string   `json:"text"`
		Names []string `json:"names"`
	}{KindText, s.Text, copyNames(s.Names)})
}

// MarshalJSON writes {"kind":"images","images_b64":[...],"names":[...]}.
func (s ImageSource) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind      string   `json:"kind"`
		ImagesB64 []string `json:"images_b64"`
		Names     []string `json:"names"`
	}{KindImages, copyNames(s.ImagesB64), copyNames(s.Names)})
}

// PrepareAnalysis extracts a payload under the analysis caps.
func PrepareAnalysis(p *payload.LaunchPayload, opts Options) (AnalysisSource, error) {
	if p == nil || p.Context == nil {
		return nil, errors.NewInvalidRequest("payload is required")
	}

	switch c := p.Context.(type) {
	case payload.Files:
		batch, err := extract.AnalysisText(c.Files, opts.Analysis)
		if err != nil {
			return nil, err
		}
		return TextSource{Text: batch.Text, Names: batch.Names}, nil
	case payload.Images:
		batch, err := extract.AnalysisImages(c.Images, opts.Analysis)
		if err != nil {
			return nil, err
		}
		return ImageSource{ImagesB64: batch.Encoded, Names: batch.Names}, nil
	default:
		return nil, errors.NewInternal(fmt.Errorf("unhandled launch context %T", p.Context))
	}
}
