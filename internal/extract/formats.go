package extract

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/zip"
	"github.com/ledongthuc/pdf"
)

// Format is the extraction strategy chosen for a file.
type Format int

const (
	FormatUnsupported Format = iota
	FormatDocx
	FormatPDF
	FormatText
)

// String returns the format name used in logs.
func (f Format) String() string {
	switch f {
	case FormatDocx:
		return "docx"
	case FormatPDF:
		return "pdf"
	case FormatText:
		return "text"
	default:
		return "unsupported"
	}
}

// docxMainEntry is the main document part inside a .docx archive.
const docxMainEntry = "word/document.xml"

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".log": true, ".json": true, ".csv": true,
	".toml": true, ".yaml": true, ".yml": true, ".ini": true,
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DetectFormat picks a format by case-insensitive extension. Docx wins over pdf,
// pdf over text.
func DetectFormat(path string) Format {
	ext := strings.ToLower(filepath.Ext(DisplayName(path)))
	switch {
	case ext == ".docx":
		return FormatDocx
	case ext == ".pdf":
		return FormatPDF
	case textExtensions[ext]:
		return FormatText
	default:
		return FormatUnsupported
	}
}

// DisplayName returns the last path element, splitting on both '/' and '\' so
// Windows shell paths work everywhere. Falls back to the raw string.
func DisplayName(path string) string {
	name := strings.TrimRight(path, `/\`)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if name == "" || name == "." || name == ".." {
		return path
	}
	return name
}

// readFileText extracts text from path according to format. ok is false for
// unsupported formats.
func readFileText(path string) (text string, ok bool, err error) {
	switch DetectFormat(path) {
	case FormatDocx:
		text, err = readDocxText(path)
	case FormatPDF:
		text, err = readPDFText(path)
	case FormatText:
		text, err = readPlainText(path)
	default:
		return "", false, nil
	}
	return text, true, err
}

func readPlainText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return decodeUTF8(data)
}

func decodeUTF8(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return "", fmt.Errorf("invalid UTF-8")
	}
	return string(data), nil
}

func readDocxText(path string) (string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return "", err
	}
	defer r.Close()

	for _, f := range r.File {
		if f.Name != docxMainEntry {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		defer rc.Close()

		data, err := io.ReadAll(rc)
		if err != nil {
			return "", err
		}
		xml, err := decodeUTF8(data)
		if err != nil {
			return "", err
		}
		return StripTags(xml), nil
	}
	return "", fmt.Errorf("docx missing %s", docxMainEntry)
}

// StripTags drops everything between '<' and '>' one character at a time.
// It is not an XML parser: entities stay encoded and paragraphs are not separated.
func StripTags(markup string) string {
	var out strings.Builder
	out.Grow(len(markup))
	inTag := false
	for _, ch := range markup {
		switch {
		case ch == '<':
			inTag = true
		case ch == '>':
			inTag = false
		case !inTag:
			out.WriteRune(ch)
		}
	}
	return out.String()
}

// readPDFText returns the text layer of a pdf. No OCR; scanned pages yield nothing.
func readPDFText(path string) (text string, err error) {
	// The pdf reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("pdf extract failed: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("pdf extract failed: %w", err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("pdf extract failed: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("pdf extract failed: %w", err)
	}
	return buf.String(), nil
}
