package extract

import (
	"encoding/base64"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/hpungsan/perch/internal/errors"
)

// Separator is inserted between the texts of consecutive files.
const Separator = "\n\n---\n\n"

// Limits bounds one extraction call.
type Limits struct {
	MaxTextBytes int
	MaxImages    int
}

// TextBatch is the combined text of a Files launch.
type TextBatch struct {
	Text string
	// Names lists the files whose text was extracted, in input order.
	Names []string
	// TotalBytes counts every extracted byte, including text left out of Text.
	TotalBytes int
	FileCount  int
}

// ImageBatch is the image list of an Images launch.
type ImageBatch struct {
	Names      []string
	TotalBytes int
	FileCount  int
	// Encoded holds base64 file contents; only AnalysisImages fills it.
	Encoded []string
}

// IngestText extracts every supported file. A file's text is appended only if the
// whole of it fits under MaxTextBytes; it is counted either way.
func IngestText(files []string, limits Limits) (*TextBatch, error) {
	batch := &TextBatch{Names: []string{}}
	var buf strings.Builder

	for _, path := range files {
		text, ok, err := readFileText(path)
		if err != nil {
			return nil, errors.NewExtraction(path, err)
		}
		if !ok {
			continue
		}

		batch.Names = append(batch.Names, DisplayName(path))
		batch.TotalBytes += len(text)
		batch.FileCount++

		if text == "" {
			continue
		}
		need := len(text)
		if buf.Len() > 0 {
			need += len(Separator)
		}
		if buf.Len()+need > limits.MaxTextBytes {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteString(Separator)
		}
		buf.WriteString(text)
	}

	batch.Text = buf.String()
	return batch, nil
}

// AnalysisText extracts every supported file and fills MaxTextBytes, cutting the
// file that overflows at a character boundary. Files past the budget are still
// read so an unreadable selection fails the batch.
func AnalysisText(files []string, limits Limits) (*TextBatch, error) {
	batch := &TextBatch{Names: []string{}}
	var buf strings.Builder

	for _, path := range files {
		text, ok, err := readFileText(path)
		if err != nil {
			return nil, errors.NewExtraction(path, err)
		}
		if !ok {
			continue
		}

		batch.Names = append(batch.Names, DisplayName(path))
		batch.TotalBytes += len(text)
		batch.FileCount++

		sep := ""
		if buf.Len() > 0 {
			sep = Separator
		}
		remaining := limits.MaxTextBytes - buf.Len() - len(sep)
		if text == "" || remaining <= 0 {
			continue
		}
		chunk := truncateUTF8(text, remaining)
		if chunk == "" {
			continue
		}
		buf.WriteString(sep)
		buf.WriteString(chunk)
	}

	batch.Text = buf.String()
	return batch, nil
}

// IngestImages lists up to MaxImages images with their sizes. A file that cannot
// be stat'ed counts as zero bytes.
func IngestImages(paths []string, limits Limits) *ImageBatch {
	batch := &ImageBatch{Names: []string{}}
	for i, path := range paths {
		if i >= limits.MaxImages {
			break
		}
		batch.Names = append(batch.Names, DisplayName(path))
		if info, err := os.Stat(path); err == nil {
			batch.TotalBytes += int(info.Size())
		}
	}
	batch.FileCount = len(batch.Names)
	return batch
}

// AnalysisImages reads and base64-encodes up to MaxImages images. Any read
// failure aborts the batch.
func AnalysisImages(paths []string, limits Limits) (*ImageBatch, error) {
	batch := &ImageBatch{Names: []string{}, Encoded: []string{}}
	for i, path := range paths {
		if i >= limits.MaxImages {
			break
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.NewExtraction(path, err)
		}
		batch.Names = append(batch.Names, DisplayName(path))
		batch.TotalBytes += len(data)
		batch.Encoded = append(batch.Encoded, base64.StdEncoding.EncodeToString(data))
	}
	batch.FileCount = len(batch.Names)
	return batch, nil
}

// truncateUTF8 returns the longest prefix of s that is at most n bytes and ends on
// a rune boundary.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
