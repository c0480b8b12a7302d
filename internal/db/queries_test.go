package db

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/hpungsan/perch/internal/config"
	"github.com/hpungsan/perch/internal/errors"
	"github.com/hpungsan/perch/internal/record"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func stringPtr(s string) *string {
	return &s
}

func newTestAnalysis(id, kind string, createdAt int64) *record.Analysis {
	a := &record.Analysis{
		ID:          id,
		Kind:        kind,
		Action:      "Summarize",
		ActionNorm:  "summarize",
		Names:       []string{"a.txt", "b.md"},
		Model:       "gemma3:4b",
		PromptBytes: 120,
		CreatedAt:   createdAt,
	}
	a.SetResponse("a short summary")
	return a
}

func TestInsertAndGetAnalysis(t *testing.T) {
	database := openTestDB(t)

	a := newTestAnalysis("01HQANALYSIS0000000000001", "text", 100)
	a.DurationMillis = 42
	if err := InsertAnalysis(database, a); err != nil {
		t.Fatalf("InsertAnalysis() error = %v", err)
	}

	got, err := GetAnalysis(database, a.ID)
	if err != nil {
		t.Fatalf("GetAnalysis() error = %v", err)
	}
	if got.Response != "a short summary" || got.ResponseChars != 15 || got.TokensEstimate != 4 {
		t.Errorf("response fields = %q/%d/%d", got.Response, got.ResponseChars, got.TokensEstimate)
	}
	if len(got.Names) != 2 || got.Names[1] != "b.md" {
		t.Errorf("Names = %v", got.Names)
	}
	if got.ErrorCode != nil || got.ErrorMessage != nil {
		t.Errorf("error fields should be nil, got %v/%v", got.ErrorCode, got.ErrorMessage)
	}
	if got.DurationMillis != 42 || got.CreatedAt != 100 || got.ActionNorm != "summarize" {
		t.Errorf("got %+v", got)
	}
}

func TestInsertAnalysis_Failure(t *testing.T) {
	database := openTestDB(t)

	a := &record.Analysis{
		ID:           "01HQFAILED000000000000001",
		Kind:         "images",
		Action:       "describe",
		ActionNorm:   "describe",
		Model:        "llava",
		ErrorCode:    stringPtr("SERVICE_ERROR"),
		ErrorMessage: stringPtr("ollama returned status 500"),
		CreatedAt:    1,
	}
	if err := InsertAnalysis(database, a); err != nil {
		t.Fatalf("InsertAnalysis() error = %v", err)
	}

	got, err := GetAnalysis(database, a.ID)
	if err != nil {
		t.Fatalf("GetAnalysis() error = %v", err)
	}
	if got.Succeeded() {
		t.Error("Succeeded() = true, want false")
	}
	if *got.ErrorMessage != "ollama returned status 500" {
		t.Errorf("ErrorMessage = %q", *got.ErrorMessage)
	}
	if got.Names == nil || len(got.Names) != 0 {
		t.Errorf("Names = %#v, want empty slice", got.Names)
	}
}

func TestGetAnalysis_NotFound(t *testing.T) {
	database := openTestDB(t)

	_, err := GetAnalysis(database, "01NOPE")
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("GetAnalysis() error = %v, want NOT_FOUND", err)
	}
}

func TestInsertAnalysis_DuplicateID(t *testing.T) {
	database := openTestDB(t)

	a := newTestAnalysis("01HQDUP000000000000000001", "text", 1)
	if err := InsertAnalysis(database, a); err != nil {
		t.Fatalf("first InsertAnalysis() error = %v", err)
	}
	if err := InsertAnalysis(database, a); !errors.Is(err, errors.ErrInternal) {
		t.Errorf("second InsertAnalysis() error = %v, want INTERNAL", err)
	}
}

func TestListAnalyses_PaginationAndFilter(t *testing.T) {
	database := openTestDB(t)

	for i := range 5 {
		kind := "text"
		if i%2 == 1 {
			kind = "images"
		}
		a := newTestAnalysis(fmt.Sprintf("01HQLIST00000000000000000%d", i), kind, int64(100+i))
		if err := InsertAnalysis(database, a); err != nil {
			t.Fatalf("InsertAnalysis() error = %v", err)
		}
	}

	items, total, err := ListAnalyses(database, "", 2, 0)
	if err != nil {
		t.Fatalf("ListAnalyses() error = %v", err)
	}
	if total != 5 || len(items) != 2 {
		t.Fatalf("total = %d, len = %d, want 5/2", total, len(items))
	}
	if items[0].CreatedAt != 104 || items[1].CreatedAt != 103 {
		t.Errorf("order = %d,%d, want newest first", items[0].CreatedAt, items[1].CreatedAt)
	}

	items, total, err = ListAnalyses(database, "images", 10, 0)
	if err != nil {
		t.Fatalf("ListAnalyses(images) error = %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Errorf("images total = %d, len = %d, want 2/2", total, len(items))
	}
	for _, it := range items {
		if it.Kind != "images" {
			t.Errorf("Kind = %q, want images", it.Kind)
		}
	}

	items, _, err = ListAnalyses(database, "", 10, 4)
	if err != nil {
		t.Fatalf("ListAnalyses(offset) error = %v", err)
	}
	if len(items) != 1 || items[0].CreatedAt != 100 {
		t.Errorf("offset page = %+v", items)
	}
}

func TestListAnalyses_Empty(t *testing.T) {
	database := openTestDB(t)

	items, total, err := ListAnalyses(database, "", 10, 0)
	if err != nil {
		t.Fatalf("ListAnalyses() error = %v", err)
	}
	if total != 0 || len(items) != 0 {
		t.Errorf("total = %d, len = %d", total, len(items))
	}
}

func TestStreamAnalyses(t *testing.T) {
	database := openTestDB(t)

	for i, kind := range []string{"text", "images", "text"} {
		a := newTestAnalysis(fmt.Sprintf("01HQSTREAM000000000000000%d", i), kind, int64(10-i))
		if err := InsertAnalysis(database, a); err != nil {
			t.Fatalf("InsertAnalysis() error = %v", err)
		}
	}

	rows, err := StreamAnalyses(context.Background(), database, "text")
	if err != nil {
		t.Fatalf("StreamAnalyses() error = %v", err)
	}
	defer rows.Close()

	var created []int64
	for rows.Next() {
		a, err := ScanAnalysisFromRows(rows)
		if err != nil {
			t.Fatalf("ScanAnalysisFromRows() error = %v", err)
		}
		created = append(created, a.CreatedAt)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows.Err() = %v", err)
	}
	if len(created) != 2 || created[0] != 8 || created[1] != 10 {
		t.Errorf("created = %v, want [8 10] oldest first", created)
	}
}

func TestActivations(t *testing.T) {
	database := openTestDB(t)

	ok := &record.Activation{
		ID:        "01HQACT0000000000000000001",
		Args:      []string{"perch", `{"kind":"files","files":["a.txt"]}`},
		Cwd:       "/home/u",
		Kind:      stringPtr("files"),
		Paths:     []string{"a.txt"},
		CreatedAt: 1,
	}
	failed := &record.Activation{
		ID:         "01HQACT0000000000000000002",
		Args:       []string{"perch", "garbage"},
		ParseError: stringPtr("NO_PAYLOAD_FOUND: no launch payload found in arguments"),
		CreatedAt:  2,
	}
	for _, a := range []*record.Activation{ok, failed} {
		if err := InsertActivation(database, a); err != nil {
			t.Fatalf("InsertActivation() error = %v", err)
		}
	}

	items, total, err := ListActivations(database, 10, 0)
	if err != nil {
		t.Fatalf("ListActivations() error = %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Fatalf("total = %d, len = %d", total, len(items))
	}

	first := items[0]
	if first.ID != failed.ID || first.Kind != nil || first.ParseError == nil || first.Cwd != "" {
		t.Errorf("failed activation = %+v", first)
	}
	if len(first.Paths) != 0 || first.Paths == nil {
		t.Errorf("Paths = %#v, want empty slice", first.Paths)
	}

	second := items[1]
	if *second.Kind != "files" || second.Cwd != "/home/u" || second.Args[1] != ok.Args[1] {
		t.Errorf("ok activation = %+v", second)
	}
}

func TestConfigurePool(t *testing.T) {
	database := openTestDB(t)

	cfg := config.DefaultConfig()
	cfg.DBMaxOpenConns = 3
	ConfigurePool(database, cfg)
	if got := database.Stats().MaxOpenConnections; got != 3 {
		t.Errorf("MaxOpenConnections = %d, want 3", got)
	}

	ConfigurePool(database, nil)
}
