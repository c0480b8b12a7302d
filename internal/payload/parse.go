package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/hpungsan/perch/internal/errors"
)

// MaxIndirectFileBytes caps an @file payload. Real payloads are a few KB of paths.
const MaxIndirectFileBytes = 1 << 20

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Parse resolves raw launch arguments into a LaunchPayload.
//
// Shells quote, split and prefix the payload differently, so three strategies are
// tried in order and the first success wins:
//  1. @path file indirection (any failure reading that file is terminal)
//  2. an argument that is a whole {...} JSON object
//  3. the span from the first '{' to the last '}' of all arguments joined by spaces
func Parse(args []string) (*LaunchPayload, error) {
	if len(args) == 0 {
		return nil, errors.NewParse("no launch arguments", nil)
	}

	normalized := make([]string, len(args))
	for i, a := range args {
		normalized[i] = normalizeArg(a)
	}

	for _, a := range normalized {
		path, ok := strings.CutPrefix(a, "@")
		if !ok || strings.TrimSpace(path) == "" {
			continue
		}
		return parseIndirect(strings.TrimSpace(path))
	}

	for _, a := range normalized {
		if strings.HasPrefix(a, "{") && strings.HasSuffix(a, "}") {
			if p, err := decode([]byte(a)); err == nil {
				return p, nil
			}
		}
	}

	joined := strings.Join(normalized, " ")
	start := strings.Index(joined, "{")
	end := strings.LastIndex(joined, "}")
	if start >= 0 && end > start {
		p, err := decode([]byte(joined[start : end+1]))
		if err != nil {
			return nil, errors.NewNoPayloadFound(err)
		}
		return p, nil
	}

	return nil, errors.NewNoPayloadFound(nil)
}

// normalizeArg trims whitespace and one layer of matching surrounding quotes.
func normalizeArg(a string) string {
	a = strings.TrimSpace(a)
	if len(a) >= 2 {
		first, last := a[0], a[len(a)-1]
		if (first == '"' || first == '\'') && first == last {
			a = strings.TrimSpace(a[1 : len(a)-1])
		}
	}
	return a
}

func parseIndirect(path string) (*LaunchPayload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewParse(fmt.Sprintf("cannot read payload file %s", path), err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxIndirectFileBytes+1))
	if err != nil {
		return nil, errors.NewParse(fmt.Sprintf("cannot read payload file %s", path), err)
	}
	if len(data) > MaxIndirectFileBytes {
		return nil, errors.NewParse(fmt.Sprintf("payload file %s exceeds %d bytes", path, MaxIndirectFileBytes), nil)
	}

	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return nil, errors.NewParse(fmt.Sprintf("payload file %s is not valid UTF-8", path), nil)
	}

	p, err := decode(bytes.TrimSpace(data))
	if err != nil {
		return nil, errors.NewParse(fmt.Sprintf("invalid payload in %s", path), err)
	}
	return p, nil
}

func decode(data []byte) (*LaunchPayload, error) {
	var p LaunchPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
