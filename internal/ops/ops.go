package ops

import (
	"context"
	"crypto/rand"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/perch/internal/config"
	"github.com/hpungsan/perch/internal/errors"
	"github.com/hpungsan/perch/internal/extract"
	"github.com/hpungsan/perch/internal/guard"
	"github.com/hpungsan/perch/internal/handoff"
	"github.com/hpungsan/perch/internal/ingest"
	"github.com/hpungsan/perch/internal/logging"
	"github.com/hpungsan/perch/internal/ollama"
)

// Pagination limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

var errNoDatabase = stderrors.New("history database not configured")

// Generator is the text-generation service.
type Generator interface {
	Health(ctx context.Context) (string, error)
	Generate(ctx context.Context, r ollama.Request) (string, error)
	GenerateStream(ctx context.Context, r ollama.Request, onChunk func(string)) (string, error)
	Pull(ctx context.Context, model string) (string, error)
	Model() string
}

// Env bundles the process-scoped dependencies every operation needs. Build it
// once at startup and share it.
type Env struct {
	Config    *config.Config
	DB        *sql.DB
	Handoff   *handoff.Handoff
	Guard     *guard.Guard
	Generator Generator
	Logger    *zap.Logger

	// BaseDir is the data directory (~/.perch); exports go to BaseDir/exports.
	BaseDir string
}

// NewEnv wires the in-memory collaborators from cfg. DB and Generator are
// supplied by the caller.
func NewEnv(cfg *config.Config, database *sql.DB, gen Generator, baseDir string, logger *zap.Logger) *Env {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger = logging.OrNop(logger)
	store := handoff.NewStore(cfg.LogCapacity, logger)
	return &Env{
		Config:    cfg,
		DB:        database,
		Handoff:   handoff.New(store, cfg.ReadyFallback(), logger),
		Guard:     guard.New(),
		Generator: gen,
		Logger:    logger,
		BaseDir:   baseDir,
	}
}

// Store returns the payload handoff store.
func (e *Env) Store() *handoff.Store {
	return e.Handoff.Store()
}

// ingestOptions maps config caps onto extraction limits.
func (e *Env) ingestOptions() ingest.Options {
	return ingest.Options{
		PreviewChars: e.Config.PreviewChars,
		Ingest: extract.Limits{
			MaxTextBytes: e.Config.IngestMaxTextBytes,
			MaxImages:    e.Config.IngestMaxImages,
		},
		Analysis: extract.Limits{
			MaxTextBytes: e.Config.AnalysisMaxTextBytes,
			MaxImages:    e.Config.AnalysisMaxImages,
		},
	}
}

func (e *Env) requireGenerator() error {
	if e.Generator == nil {
		return errors.NewServiceUnavailable("no text-generation service configured", nil)
	}
	return nil
}

func newID(now time.Time) (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(now), entropy)
	if err != nil {
		return "", errors.NewInternal(err)
	}
	return id.String(), nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return limit, max(offset, 0)
}
