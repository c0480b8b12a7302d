package ops

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hpungsan/perch/internal/config"
	"github.com/hpungsan/perch/internal/db"
	"github.com/hpungsan/perch/internal/errors"
	"github.com/hpungsan/perch/internal/ollama"
	"github.com/hpungsan/perch/internal/payload"
)

type fakeGenerator struct {
	healthErr error
	response  string
	genErr    error
	chunks    []string
	pullErr   error

	requests []ollama.Request
	pulled   []string
}

func (f *fakeGenerator) Health(context.Context) (string, error) {
	if f.healthErr != nil {
		return "", f.healthErr
	}
	return "Ollama v0.5.1 reachable", nil
}

func (f *fakeGenerator) Generate(_ context.Context, r ollama.Request) (string, error) {
	f.requests = append(f.requests, r)
	if f.genErr != nil {
		return "", f.genErr
	}
	return f.response, nil
}

func (f *fakeGenerator) GenerateStream(_ context.Context, r ollama.Request, onChunk func(string)) (string, error) {
	f.requests = append(f.requests, r)
	if f.genErr != nil {
		return "", f.genErr
	}
	var b strings.Builder
	for _, c := range f.chunks {
		if onChunk != nil {
			onChunk(c)
		}
		b.WriteString(c)
	}
	return b.String(), nil
}

func (f *fakeGenerator) Pull(_ context.Context, model string) (string, error) {
	f.pulled = append(f.pulled, model)
	if f.pullErr != nil {
		return "", f.pullErr
	}
	return "pull via REST completed with status success", nil
}

func (f *fakeGenerator) Model() string { return "gemma3:4b" }

func newTestEnv(t *testing.T, gen Generator) *Env {
	t.Helper()
	dir := t.TempDir()
	database, err := db.Init(dir)
	if err != nil {
		t.Fatalf("db.Init failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewEnv(config.DefaultConfig(), database, gen, dir, nil)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func filesArg(t *testing.T, paths ...string) string {
	t.Helper()
	p, err := payload.FromPaths(payload.KindFiles, paths)
	if err != nil {
		t.Fatalf("FromPaths failed: %v", err)
	}
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	return string(data)
}

func TestActivate_DeliversPayload(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{})
	path := writeFile(t, "a.txt", "hello")

	out, err := Activate(env, ActivateInput{Args: []string{filesArg(t, path)}, Cwd: "/tmp"})
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if out.ID == "" {
		t.Error("ID is empty")
	}
	if out.Delivered {
		t.Error("Delivered = true with no surface attached")
	}
	if got := out.Payload.Context.Paths(); len(got) != 1 || got[0] != path {
		t.Errorf("Paths = %v, want [%s]", got, path)
	}
	if env.Store().Last() == nil {
		t.Error("store has no last payload after Activate")
	}

	acts, err := Activations(env, ActivationsInput{})
	if err != nil {
		t.Fatalf("Activations failed: %v", err)
	}
	if len(acts.Items) != 1 {
		t.Fatalf("len(Items) = %d, want 1", len(acts.Items))
	}
	row := acts.Items[0]
	if row.Kind == nil || *row.Kind != "files" {
		t.Errorf("Kind = %v, want files", row.Kind)
	}
	if row.ParseError != nil {
		t.Errorf("ParseError = %q, want nil", *row.ParseError)
	}
	if row.Cwd != "/tmp" {
		t.Errorf("Cwd = %q, want /tmp", row.Cwd)
	}
}

func TestActivate_ParseFailureRecorded(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{})

	_, err := Activate(env, ActivateInput{Args: []string{"--not-json"}})
	if !errors.Is(err, errors.ErrNoPayloadFound) && !errors.Is(err, errors.ErrParse) {
		t.Fatalf("Activate error = %v, want a parse failure", err)
	}
	if env.Store().Last() != nil {
		t.Error("failed activation stored a payload")
	}

	snap := Snapshot(env)
	if len(snap.ActivationArgs) != 1 || snap.ActivationArgs[0] != "--not-json" {
		t.Errorf("ActivationArgs = %v", snap.ActivationArgs)
	}
	if len(snap.Logs) == 0 || !strings.Contains(snap.Logs[len(snap.Logs)-1], "parse failed") {
		t.Errorf("Logs = %v, want a parse failure entry", snap.Logs)
	}

	acts, err := Activations(env, ActivationsInput{})
	if err != nil {
		t.Fatalf("Activations failed: %v", err)
	}
	if len(acts.Items) != 1 || acts.Items[0].ParseError == nil {
		t.Fatalf("Items = %+v, want one row with a parse error", acts.Items)
	}
}

func TestIngest_UsesLastPayload(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{})
	path := writeFile(t, "notes.md", "# Notes\nsome text")
	if _, err := Activate(env, ActivateInput{Args: []string{filesArg(t, path)}}); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	preview, err := Ingest(env, IngestInput{})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if preview.Kind != "text" || preview.FileCount != 1 {
		t.Errorf("preview = %+v", preview)
	}
	if !strings.Contains(preview.Preview, "some text") {
		t.Errorf("Preview = %q", preview.Preview)
	}
}

func TestIngest_NoPayload(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{})
	_, err := Ingest(env, IngestInput{})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("Ingest error = %v, want INVALID_REQUEST", err)
	}
}

func TestAnalyze_TextRecorded(t *testing.T) {
	gen := &fakeGenerator{response: "A short summary of the notes."}
	env := newTestEnv(t, gen)
	path := writeFile(t, "notes.txt", "alpha beta gamma")
	p, _ := payload.FromPaths(payload.KindFiles, []string{path})

	out, err := Analyze(context.Background(), env, AnalyzeInput{Payload: p, Action: "Summarize"})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if out.Response != gen.response {
		t.Errorf("Response = %q", out.Response)
	}
	if out.Kind != "text" || out.Model != "gemma3:4b" {
		t.Errorf("out = %+v", out)
	}
	if len(out.Names) != 1 || out.Names[0] != "notes.txt" {
		t.Errorf("Names = %v, want [notes.txt]", out.Names)
	}
	if len(gen.requests) != 1 || !strings.Contains(gen.requests[0].Prompt, "alpha beta gamma") {
		t.Fatalf("requests = %+v", gen.requests)
	}
	if env.Guard.Busy() {
		t.Error("guard still held after Analyze")
	}

	got, err := GetAnalysis(env, out.ID)
	if err != nil {
		t.Fatalf("GetAnalysis failed: %v", err)
	}
	if got.Response != gen.response || got.ErrorCode != nil {
		t.Errorf("stored = %+v", got)
	}
	if got.PromptBytes != len(gen.requests[0].Prompt) {
		t.Errorf("PromptBytes = %d, want %d", got.PromptBytes, len(gen.requests[0].Prompt))
	}
}

func TestAnalyze_DefaultActionAndImages(t *testing.T) {
	gen := &fakeGenerator{response: "two cats"}
	env := newTestEnv(t, gen)
	p, _ := payload.FromPaths(payload.KindImages, []string{
		writeFile(t, "a.png", "png-a"),
		writeFile(t, "b.jpg", "jpg-b"),
	})

	out, err := Analyze(context.Background(), env, AnalyzeInput{Payload: p})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if out.Action != DefaultAnalyzeAction || out.Kind != "images" {
		t.Errorf("out = %+v", out)
	}
	req := gen.requests[0]
	if len(req.Images) != 2 {
		t.Errorf("len(Images) = %d, want 2", len(req.Images))
	}
	if !strings.Contains(req.Prompt, "Images: a.png, b.jpg") {
		t.Errorf("Prompt = %q", req.Prompt)
	}
}

func TestAnalyze_Busy(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{response: "x"})
	p, _ := payload.FromPaths(payload.KindFiles, []string{writeFile(t, "a.txt", "a")})

	token, err := env.Guard.TryAcquire()
	if err != nil {
		t.Fatalf("TryAcquire failed: %v", err)
	}
	_, err = Analyze(context.Background(), env, AnalyzeInput{Payload: p})
	if !errors.Is(err, errors.ErrBusy) {
		t.Errorf("Analyze error = %v, want BUSY", err)
	}
	token.Release()

	if _, err := Analyze(context.Background(), env, AnalyzeInput{Payload: p}); err != nil {
		t.Errorf("Analyze after release failed: %v", err)
	}
}

func TestAnalyze_HealthFailureRecorded(t *testing.T) {
	gen := &fakeGenerator{healthErr: errors.NewServiceUnavailable("Ollama not reachable", nil)}
	env := newTestEnv(t, gen)
	p, _ := payload.FromPaths(payload.KindFiles, []string{writeFile(t, "a.txt", "a")})

	_, err := Analyze(context.Background(), env, AnalyzeInput{Payload: p})
	if !errors.Is(err, errors.ErrServiceUnavailable) {
		t.Fatalf("Analyze error = %v, want SERVICE_UNAVAILABLE", err)
	}
	if len(gen.requests) != 0 {
		t.Error("Generate called after failed health check")
	}
	if env.Guard.Busy() {
		t.Error("guard still held after failure")
	}

	hist, err := History(env, HistoryInput{})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(hist.Items) != 1 {
		t.Fatalf("len(Items) = %d, want 1", len(hist.Items))
	}
	if hist.Items[0].ErrorCode == nil || *hist.Items[0].ErrorCode != string(errors.ErrServiceUnavailable) {
		t.Errorf("ErrorCode = %v", hist.Items[0].ErrorCode)
	}
}

func TestAnalyze_ExtractionFailure(t *testing.T) {
	gen := &fakeGenerator{response: "x"}
	env := newTestEnv(t, gen)
	p, _ := payload.FromPaths(payload.KindFiles, []string{writeFile(t, "broken.docx", "not a zip")})

	_, err := Analyze(context.Background(), env, AnalyzeInput{Payload: p})
	if !errors.Is(err, errors.ErrExtractionFailed) {
		t.Errorf("Analyze error = %v, want EXTRACTION_FAILED", err)
	}
	if len(gen.requests) != 0 {
		t.Error("Generate called after extraction failure")
	}
}

func TestAnalyze_Stream(t *testing.T) {
	gen := &fakeGenerator{chunks: []string{"one ", "two ", "three"}}
	env := newTestEnv(t, gen)
	p, _ := payload.FromPaths(payload.KindFiles, []string{writeFile(t, "a.txt", "a")})

	var got []string
	out, err := Analyze(context.Background(), env, AnalyzeInput{
		Payload: p,
		Stream:  true,
		OnChunk: func(s string) { got = append(got, s) },
	})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if out.Response != "one two three" {
		t.Errorf("Response = %q", out.Response)
	}
	if len(got) != 3 {
		t.Errorf("chunks = %v, want 3", got)
	}
}

func TestAnalyze_NoGenerator(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := Analyze(context.Background(), env, AnalyzeInput{})
	if !errors.Is(err, errors.ErrServiceUnavailable) {
		t.Errorf("Analyze error = %v, want SERVICE_UNAVAILABLE", err)
	}
}

func TestRunAction(t *testing.T) {
	gen := &fakeGenerator{response: "Bonjour"}
	env := newTestEnv(t, gen)

	out, err := RunAction(context.Background(), env, ActionInput{Action: " Translate ", Input: "Hello"})
	if err != nil {
		t.Fatalf("RunAction failed: %v", err)
	}
	if out.Action != "translate" || out.Response != "Bonjour" {
		t.Errorf("out = %+v", out)
	}
	if want := ollama.FormatPrompt("translate", "Hello"); gen.requests[0].Prompt != want {
		t.Errorf("Prompt = %q, want %q", gen.requests[0].Prompt, want)
	}
}

func TestRunAction_Invalid(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{})
	tests := []struct {
		name  string
		input ActionInput
	}{
		{"unknown action", ActionInput{Action: "dance", Input: "x"}},
		{"empty input", ActionInput{Action: "summarize", Input: "  "}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := RunAction(context.Background(), env, tc.input)
			if !errors.Is(err, errors.ErrInvalidRequest) {
				t.Errorf("RunAction error = %v, want INVALID_REQUEST", err)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{})
	out := Health(context.Background(), env)
	if !out.OK || out.Model != "gemma3:4b" || out.Busy {
		t.Errorf("out = %+v", out)
	}

	down := newTestEnv(t, &fakeGenerator{healthErr: errors.NewServiceUnavailable("Ollama not reachable", nil)})
	out = Health(context.Background(), down)
	if out.OK || !strings.Contains(out.Message, "not reachable") {
		t.Errorf("out = %+v", out)
	}
}

func TestPull_DefaultsToConfiguredModel(t *testing.T) {
	gen := &fakeGenerator{}
	env := newTestEnv(t, gen)

	out, err := Pull(context.Background(), env, "")
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	if out.Model != "gemma3:4b" || len(gen.pulled) != 1 || gen.pulled[0] != "gemma3:4b" {
		t.Errorf("out = %+v, pulled = %v", out, gen.pulled)
	}
}

func TestHistory_PaginationAndKind(t *testing.T) {
	gen := &fakeGenerator{response: "ok"}
	env := newTestEnv(t, gen)
	text, _ := payload.FromPaths(payload.KindFiles, []string{writeFile(t, "a.txt", "a")})
	images, _ := payload.FromPaths(payload.KindImages, []string{writeFile(t, "a.png", "png")})

	for range 3 {
		if _, err := Analyze(context.Background(), env, AnalyzeInput{Payload: text}); err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}
	}
	if _, err := Analyze(context.Background(), env, AnalyzeInput{Payload: images}); err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	page, err := History(env, HistoryInput{Limit: 2})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(page.Items) != 2 || !page.Pagination.HasMore || page.Pagination.Total != 4 {
		t.Errorf("page = %+v", page.Pagination)
	}

	onlyImages, err := History(env, HistoryInput{Kind: "IMAGES"})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if onlyImages.Pagination.Total != 1 || onlyImages.Items[0].Kind != "images" {
		t.Errorf("images = %+v", onlyImages)
	}

	if _, err := History(env, HistoryInput{Kind: "audio"}); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("History error = %v, want INVALID_REQUEST", err)
	}
}

func TestHistory_LimitClamped(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{})
	out, err := History(env, HistoryInput{Limit: 1000, Offset: -5})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if out.Pagination.Limit != MaxListLimit || out.Pagination.Offset != 0 {
		t.Errorf("Pagination = %+v", out.Pagination)
	}
	if out.Items == nil {
		t.Error("Items is nil, want empty slice")
	}
}

func TestGetAnalysis_NotFound(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{})
	if _, err := GetAnalysis(env, "01NOPE"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("GetAnalysis error = %v, want NOT_FOUND", err)
	}
	if _, err := GetAnalysis(env, " "); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("GetAnalysis error = %v, want INVALID_REQUEST", err)
	}
}

func TestReemitAndReadyWithoutSurface(t *testing.T) {
	env := newTestEnv(t, &fakeGenerator{})
	if Reemit(env).Reemitted {
		t.Error("Reemitted = true with no surface")
	}
	if Ready(env).Delivered {
		t.Error("Delivered = true with no surface")
	}
}

func TestHistoryWithoutDatabase(t *testing.T) {
	env := NewEnv(nil, nil, &fakeGenerator{response: "ok"}, t.TempDir(), nil)
	if _, err := History(env, HistoryInput{}); !errors.Is(err, errors.ErrInternal) {
		t.Errorf("History error = %v, want INTERNAL", err)
	}

	// Analyses still run; only the record is skipped.
	p, _ := payload.FromPaths(payload.KindFiles, []string{writeFile(t, "a.txt", "a")})
	if _, err := Analyze(context.Background(), env, AnalyzeInput{Payload: p}); err != nil {
		t.Errorf("Analyze without database failed: %v", err)
	}
}
