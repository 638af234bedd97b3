package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/Leiito98/glowshot-ledger/internal/credits"
	domainErr "github.com/Leiito98/glowshot-ledger/internal/domain/errors"
	"github.com/Leiito98/glowshot-ledger/internal/events"
	"github.com/Leiito98/glowshot-ledger/internal/jobs"
	"github.com/Leiito98/glowshot-ledger/internal/store/memory"
	"go.uber.org/zap"
)

type MockTrainer struct {
	NextID string
	Err    error
	Calls  int
	// OnSubmit runs before Submit returns, like a webhook racing the reply.
	OnSubmit func(trainingID string)
}

func (m *MockTrainer) Submit(context.Context, jobs.TrainingRequest) (string, error) {
	m.Calls++
	if m.OnSubmit != nil {
		m.OnSubmit(m.NextID)
	}
	return m.NextID, m.Err
}

type MockBlobStore struct {
	mu   sync.Mutex
	Puts map[string][]byte
	Err  error
}

func (m *MockBlobStore) Put(_ context.Context, key, _ string, r io.Reader) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Puts == nil {
		m.Puts = map[string][]byte{}
	}
	m.Puts[key] = b
	return "https://storage.example/loras/" + key, nil
}

type fixture struct {
	store   *memory.MemoryStore
	credits *credits.Service
	trainer *MockTrainer
	blobs   *MockBlobStore
	bridge  *jobs.Bridge
	art     *httptest.Server
}

func newFixture(t *testing.T, cost int) *fixture {
	t.Helper()
	art := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "missing.tar") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if strings.HasSuffix(r.URL.Path, "chunked.tar") {
			// no Content-Length: flushing forces chunked encoding
			for i := 0; i < 10; i++ {
				_, _ = w.Write([]byte("0123456789"))
				w.(http.Flusher).Flush()
			}
			return
		}
		w.Header().Set("Content-Type", "application/x-tar")
		_, _ = w.Write([]byte("lora-weights"))
	}))
	t.Cleanup(art.Close)

	store := memory.NewMemoryStore()
	svc := credits.NewService(store, store, zap.NewNop())
	f := &fixture{
		store:   store,
		credits: svc,
		trainer: &MockTrainer{NextID: "t1"},
		blobs:   &MockBlobStore{},
		art:     art,
	}
	f.bridge = jobs.NewBridge(store, f.trainer, f.blobs, svc, events.Noop{}, jobs.Config{CreditCost: cost}, zap.NewNop())
	return f
}

func (f *fixture) submit(t *testing.T) *jobs.TrainingJob {
	t.Helper()
	job, err := f.bridge.SubmitJob(context.Background(), "u1", "https://uploads.example/u1/images.zip", "TOK")
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	return job
}

func TestSubmitJob_RecordsStarting(t *testing.T) {
	f := newFixture(t, 0)
	job := f.submit(t)
	if job.TrainingID != "t1" || job.Status != jobs.StatusStarting {
		t.Fatalf("unexpected job %+v", job)
	}
	view, err := f.bridge.PollStatus(context.Background(), "t1")
	if err != nil || view.Status != jobs.StatusStarting || view.ResultURL != "" {
		t.Fatalf("PollStatus = %+v, %v", view, err)
	}
}

func TestSubmitJob_Validation(t *testing.T) {
	f := newFixture(t, 0)
	if _, err := f.bridge.SubmitJob(context.Background(), "", "https://x/y.zip", ""); !errors.Is(err, domainErr.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if _, err := f.bridge.SubmitJob(context.Background(), "u1", "not-a-url", ""); !errors.Is(err, domainErr.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if f.trainer.Calls != 0 {
		t.Fatal("trainer called for invalid input")
	}
}

func TestSubmitJob_ChargesCredits(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, 10)
	if _, err := f.bridge.SubmitJob(ctx, "u1", "https://x/y.zip", ""); !errors.Is(err, domainErr.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if f.trainer.Calls != 0 {
		t.Fatal("trainer called without credits")
	}

	_, _ = f.credits.AddCredits(ctx, "u1", 25)
	f.submit(t)
	if got, _ := f.credits.GetCredits(ctx, "u1"); got != 15 {
		t.Fatalf("credits = %d, want 15", got)
	}

	f.trainer.Err = errors.New("replicate 422")
	if _, err := f.bridge.SubmitJob(ctx, "u1", "https://x/y.zip", ""); err == nil {
		t.Fatal("expected trainer error")
	}
	if got, _ := f.credits.GetCredits(ctx, "u1"); got != 15 {
		t.Fatalf("credits after refund = %d, want 15", got)
	}
}

func TestOnCallback_OutputShapesPersistSameURL(t *testing.T) {
	shapes := map[string]func(src string) string{
		"string": func(src string) string { return `"` + src + `"` },
		"object": func(src string) string { return `{"version":"v1","weights":"` + src + `"}` },
		"array":  func(src string) string { return `["` + src + `"]` },
	}
	for name, shape := range shapes {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, 0)
			f.submit(t)
			src := f.art.URL + "/pbxt/trained_model.tar"

			err := f.bridge.OnCallback(context.Background(), jobs.Callback{ID: "t1", Status: "succeeded", Output: json.RawMessage(shape(src))})
			if err != nil {
				t.Fatalf("OnCallback: %v", err)
			}
			view, _ := f.bridge.PollStatus(context.Background(), "t1")
			if view.Status != jobs.StatusCompleted {
				t.Fatalf("status = %s (%s)", view.Status, view.Error)
			}
			if view.ResultURL != "https://storage.example/loras/u1/t1.tar" {
				t.Errorf("result url = %q", view.ResultURL)
			}
			if string(f.blobs.Puts["u1/t1.tar"]) != "lora-weights" {
				t.Errorf("stored bytes = %q", f.blobs.Puts["u1/t1.tar"])
			}
		})
	}
}

func TestOnCallback_FetchFailureMarksFailed(t *testing.T) {
	f := newFixture(t, 0)
	f.submit(t)

	err := f.bridge.OnCallback(context.Background(), jobs.Callback{ID: "t1", Status: "succeeded", Output: json.RawMessage(`"` + f.art.URL + `/missing.tar"`)})
	if err != nil {
		t.Fatalf("OnCallback: %v", err)
	}
	view, _ := f.bridge.PollStatus(context.Background(), "t1")
	if view.Status != jobs.StatusFailed || view.ResultURL != "" || !strings.Contains(view.Error, "404") {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestOnCallback_OversizedChunkedArtifactMarksFailed(t *testing.T) {
	f := newFixture(t, 0)
	f.bridge = jobs.NewBridge(f.store, f.trainer, f.blobs, f.credits, events.Noop{}, jobs.Config{MaxArtifactBytes: 10}, zap.NewNop())
	f.submit(t)

	err := f.bridge.OnCallback(context.Background(), jobs.Callback{ID: "t1", Status: "succeeded", Output: json.RawMessage(`"` + f.art.URL + `/chunked.tar"`)})
	if err != nil {
		t.Fatalf("OnCallback: %v", err)
	}
	view, _ := f.bridge.PollStatus(context.Background(), "t1")
	if view.Status != jobs.StatusFailed || view.ResultURL != "" || !strings.Contains(view.Error, "size limit") {
		t.Fatalf("unexpected view %+v", view)
	}
	if _, ok := f.blobs.Puts["u1/t1.tar"]; ok {
		t.Error("truncated artifact was stored")
	}
}

func TestOnCallback_ChunkedArtifactWithinLimit(t *testing.T) {
	f := newFixture(t, 0)
	f.bridge = jobs.NewBridge(f.store, f.trainer, f.blobs, f.credits, events.Noop{}, jobs.Config{MaxArtifactBytes: 100}, zap.NewNop())
	f.submit(t)

	_ = f.bridge.OnCallback(context.Background(), jobs.Callback{ID: "t1", Status: "succeeded", Output: json.RawMessage(`"` + f.art.URL + `/chunked.tar"`)})
	view, _ := f.bridge.PollStatus(context.Background(), "t1")
	if view.Status != jobs.StatusCompleted {
		t.Fatalf("status = %s (%s)", view.Status, view.Error)
	}
	if got := len(f.blobs.Puts["u1/t1.tar"]); got != 100 {
		t.Errorf("stored %d bytes, want 100", got)
	}
}

func TestOnCallback_SuccessStatuses(t *testing.T) {
	for _, status := range []string{"succeeded", "completed"} {
		t.Run(status, func(t *testing.T) {
			f := newFixture(t, 0)
			f.submit(t)
			err := f.bridge.OnCallback(context.Background(), jobs.Callback{ID: "t1", Status: status, Output: json.RawMessage(`"` + f.art.URL + `/w.tar"`)})
			if err != nil {
				t.Fatalf("OnCallback: %v", err)
			}
			view, _ := f.bridge.PollStatus(context.Background(), "t1")
			if view.Status != jobs.StatusCompleted || view.ResultURL == "" {
				t.Fatalf("unexpected view %+v", view)
			}
		})
	}
}

func TestSubmitJob_CallbackBeforeRecordIsApplied(t *testing.T) {
	f := newFixture(t, 0)
	f.trainer.OnSubmit = func(id string) {
		err := f.bridge.OnCallback(context.Background(), jobs.Callback{ID: id, Status: "failed", Error: json.RawMessage(`"invalid input images"`)})
		if err != nil {
			t.Errorf("early OnCallback: %v", err)
		}
	}

	job := f.submit(t)
	if job.Status != jobs.StatusFailed {
		t.Errorf("returned job status = %s, want failed", job.Status)
	}
	view, _ := f.bridge.PollStatus(context.Background(), "t1")
	if view.Status != jobs.StatusFailed || view.Error != "invalid input images" {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestOnCallback_UploadFailureMarksFailed(t *testing.T) {
	f := newFixture(t, 0)
	f.submit(t)
	f.blobs.Err = errors.New("bucket not found")

	_ = f.bridge.OnCallback(context.Background(), jobs.Callback{ID: "t1", Status: "succeeded", Output: json.RawMessage(`"` + f.art.URL + `/w.tar"`)})
	view, _ := f.bridge.PollStatus(context.Background(), "t1")
	if view.Status != jobs.StatusFailed || !strings.Contains(view.Error, "bucket not found") {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestOnCallback_NoURLMarksFailed(t *testing.T) {
	f := newFixture(t, 0)
	f.submit(t)
	_ = f.bridge.OnCallback(context.Background(), jobs.Callback{ID: "t1", Status: "succeeded", Output: json.RawMessage(`{"version":"v1"}`)})
	view, _ := f.bridge.PollStatus(context.Background(), "t1")
	if view.Status != jobs.StatusFailed {
		t.Fatalf("status = %s", view.Status)
	}
}

func TestOnCallback_TrainerFailure(t *testing.T) {
	f := newFixture(t, 0)
	f.submit(t)
	_ = f.bridge.OnCallback(context.Background(), jobs.Callback{ID: "t1", Status: "failed", Error: json.RawMessage(`"CUDA out of memory"`)})
	view, _ := f.bridge.PollStatus(context.Background(), "t1")
	if view.Status != jobs.StatusFailed || view.Error != "CUDA out of memory" {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestOnCallback_UnknownJobIsNoop(t *testing.T) {
	f := newFixture(t, 0)
	if err := f.bridge.OnCallback(context.Background(), jobs.Callback{ID: "ghost", Status: "succeeded", Output: json.RawMessage(`"https://x/y.tar"`)}); err != nil {
		t.Fatalf("OnCallback: %v", err)
	}
	view, _ := f.bridge.PollStatus(context.Background(), "ghost")
	if view.Status != jobs.StatusNotFound {
		t.Fatalf("status = %s", view.Status)
	}
	if len(f.blobs.Puts) != 0 {
		t.Fatal("unknown job persisted an artifact")
	}
}

func TestOnCallback_DuplicateAndLateCallbacksIgnored(t *testing.T) {
	f := newFixture(t, 0)
	f.submit(t)
	ctx := context.Background()
	ok := jobs.Callback{ID: "t1", Status: "succeeded", Output: json.RawMessage(`"` + f.art.URL + `/w.tar"`)}

	if err := f.bridge.OnCallback(ctx, ok); err != nil {
		t.Fatalf("first: %v", err)
	}
	f.blobs.Err = errors.New("must not be called again")
	if err := f.bridge.OnCallback(ctx, ok); err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	if err := f.bridge.OnCallback(ctx, jobs.Callback{ID: "t1", Status: "processing"}); err != nil {
		t.Fatalf("late progress: %v", err)
	}
	if err := f.bridge.OnCallback(ctx, jobs.Callback{ID: "t1", Status: "failed"}); err != nil {
		t.Fatalf("late failure: %v", err)
	}
	view, _ := f.bridge.PollStatus(ctx, "t1")
	if view.Status != jobs.StatusCompleted || view.ResultURL == "" {
		t.Fatalf("terminal state overwritten: %+v", view)
	}
}

func TestOnCallback_Progress(t *testing.T) {
	f := newFixture(t, 0)
	f.submit(t)
	_ = f.bridge.OnCallback(context.Background(), jobs.Callback{ID: "t1", Status: "processing"})
	view, _ := f.bridge.PollStatus(context.Background(), "t1")
	if view.Status != jobs.StatusProcessing {
		t.Fatalf("status = %s", view.Status)
	}
}

func TestPollStatus_ReadOnly(t *testing.T) {
	f := newFixture(t, 0)
	f.submit(t)
	before, _ := f.store.GetJob(context.Background(), "t1")
	for i := 0; i < 3; i++ {
		_, _ = f.bridge.PollStatus(context.Background(), "t1")
	}
	after, _ := f.store.GetJob(context.Background(), "t1")
	if *before != *after {
		t.Fatalf("poll mutated job: %+v -> %+v", before, after)
	}
}

func TestStorageKey(t *testing.T) {
	tests := []struct{ src, want string }{
		{"https://replicate.delivery/a/trained_model.tar", "u1/t1.tar"},
		{"https://replicate.delivery/a/weights.safetensors?sig=1", "u1/t1.safetensors"},
		{"https://replicate.delivery/a/blob", "u1/t1"},
	}
	for _, tt := range tests {
		if got := jobs.StorageKey("u1", "t1", tt.src); got != tt.want {
			t.Errorf("StorageKey(%q) = %q, want %q", tt.src, got, tt.want)
		}
	}
}
