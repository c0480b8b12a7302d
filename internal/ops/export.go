package ops

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/perch/internal/db"
	"github.com/hpungsan/perch/internal/errors"
	"github.com/hpungsan/perch/internal/ingest"
	"github.com/hpungsan/perch/internal/record"
)

// ExportInput contains parameters for the ExportHistory operation.
type ExportInput struct {
	Path string // optional, default: <base>/exports/<kind|all>-<timestamp>.jsonl
	Kind string // optional filter: "text" or "images"
}

// ExportOutput contains the result of the ExportHistory operation.
type ExportOutput struct {
	Path       string `json:"path"`
	Count      int    `json:"count"`
	ExportedAt int64  `json:"exported_at"`
}

// ExportHistory writes the analysis history to a JSONL file: one header line,
// then one record per analysis, oldest first. The file is written to a temp
// name and renamed into place, so an existing export survives a failure.
func ExportHistory(ctx context.Context, env *Env, input ExportInput) (*ExportOutput, error) {
	if env.DB == nil {
		return nil, errors.NewInternal(errNoDatabase)
	}
	kind := strings.ToLower(strings.TrimSpace(input.Kind))
	if kind != "" && kind != ingest.KindText && kind != ingest.KindImages {
		return nil, errors.NewInvalidRequest("kind must be \"text\" or \"images\"")
	}

	now := time.Now()
	exportsDir := filepath.Join(env.BaseDir, db.ExportsDirName)
	exportPath := input.Path
	if exportPath == "" {
		exportPath = defaultExportPath(exportsDir, kind, now)
	}
	if err := os.MkdirAll(exportsDir, 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}
	if err := ValidateExportPath(exportPath, exportsDir); err != nil {
		return nil, err
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := exportPath + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	enc := json.NewEncoder(file)
	enc.SetEscapeHTML(false)
	header := record.ExportHeader{
		PerchExport:   true,
		SchemaVersion: record.ExportSchemaVersion,
		ExportedAt:    now.Unix(),
	}
	if err := enc.Encode(header); err != nil {
		return nil, errors.NewInternal(err)
	}

	rows, err := db.StreamAnalyses(ctx, env.DB, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewInternal(fmt.Errorf("export cancelled: %w", err))
		}
		a, err := db.ScanAnalysisFromRows(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		if err := enc.Encode(record.ToExportRecord(a)); err != nil {
			return nil, errors.NewInternal(err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}

	if err := file.Sync(); err != nil {
		return nil, errors.NewInternal(err)
	}
	// Close before the rename; Windows refuses to rename an open file.
	if err := file.Close(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlink planted after validation.
	if info, err := os.Lstat(exportPath); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, errors.NewInvalidRequest("export path is a symlink")
	}
	if err := os.Rename(tempPath, exportPath); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(exportPath); statErr == nil {
				return nil, errors.NewInvalidRequest("export destination already exists; choose a new path or delete the existing file")
			}
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}
	success = true

	env.Store().Logf("exported %d analyses to %s", count, exportPath)
	env.Logger.Info("history exported", zap.String("path", exportPath), zap.Int("count", count))
	return &ExportOutput{
		Path:       exportPath,
		Count:      count,
		ExportedAt: now.Unix(),
	}, nil
}

// defaultExportPath returns <exportsDir>/<kind|all>-<timestamp>.jsonl.
func defaultExportPath(exportsDir, kind string, now time.Time) string {
	name := "all"
	if kind != "" {
		name = SanitizeForFilename(kind)
	}
	return filepath.Join(exportsDir, fmt.Sprintf("%s-%s.jsonl", name, now.Format("2006-01-02T150405")))
}
