// internal/jobs/bridge.jobs.go
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	domainErr "github.com/Leiito98/glowshot-ledger/internal/domain/errors"
	"github.com/Leiito98/glowshot-ledger/internal/events"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Config struct {
	// CreditCost is debited once per submission. Zero disables charging.
	CreditCost       int
	DownloadTimeout  time.Duration
	MaxArtifactBytes int64
}

// Bridge tracks training jobs submitted to the trainer and moves their
// result into durable storage when the trainer calls back.
type Bridge struct {
	store   JobStore
	trainer Trainer
	blobs   BlobStore
	credits CreditLedger
	events  events.Publisher
	http    *http.Client
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time

	// Callbacks can beat CreateJob when the trainer fails fast. While a
	// submission is in flight, callbacks for unknown ids wait here.
	inflight atomic.Int32
	earlyMu  sync.Mutex
	early    map[string]Callback
}

const maxEarlyCallbacks = 256

// ErrArtifactTooLarge is returned when a result exceeds MaxArtifactBytes.
var ErrArtifactTooLarge = errors.New("artifact exceeds size limit")

func NewBridge(store JobStore, trainer Trainer, blobs BlobStore, credits CreditLedger, pub events.Publisher, cfg Config, logger *zap.Logger) *Bridge {
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 2 * time.Minute
	}
	if cfg.MaxArtifactBytes <= 0 {
		cfg.MaxArtifactBytes = 512 << 20
	}
	return &Bridge{
		store:   store,
		trainer: trainer,
		blobs:   blobs,
		credits: credits,
		events:  pub,
		http:    &http.Client{Timeout: cfg.DownloadTimeout},
		cfg:     cfg,
		logger:  logger.Named("jobs"),
		now:     time.Now,
		early:   make(map[string]Callback),
	}
}

// SubmitJob charges the configured cost, submits to the trainer and
// records the job in "starting" before returning its id.
func (b *Bridge) SubmitJob(ctx context.Context, userID, inputRef, triggerWord string) (*TrainingJob, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domainErr.ErrUnauthenticated
	}
	if u, err := url.Parse(inputRef); err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return nil, &domainErr.ValidationError{Field: "inputRef", Reason: "must be an http(s) url"}
	}

	if b.cfg.CreditCost > 0 {
		if _, err := b.credits.ConsumeCredits(ctx, userID, b.cfg.CreditCost); err != nil {
			return nil, err
		}
	}

	b.inflight.Add(1)
	defer b.inflight.Add(-1)

	trainingID, err := b.trainer.Submit(ctx, TrainingRequest{UserID: userID, InputRef: inputRef, TriggerWord: triggerWord})
	if err != nil {
		b.refund(ctx, userID)
		return nil, fmt.Errorf("submit training: %w", err)
	}

	now := b.now().UTC()
	job := &TrainingJob{
		ID:          uuid.NewString(),
		TrainingID:  trainingID,
		UserID:      userID,
		Status:      StatusStarting,
		InputRef:    inputRef,
		TriggerWord: triggerWord,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := b.store.CreateJob(ctx, job); err != nil {
		// The trainer is already running; its callback will be dropped as
		// unknown. Credits stay debited since the work is happening.
		b.logger.Error("training submitted but not recorded", zap.String("training_id", trainingID), zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("record job %s: %w", trainingID, err)
	}
	b.logger.Info("training submitted", zap.String("training_id", trainingID), zap.String("user_id", userID))

	if cb, ok := b.takeEarly(trainingID); ok {
		if err := b.OnCallback(ctx, cb); err != nil {
			b.logger.Error("early callback failed", zap.String("training_id", trainingID), zap.Error(err))
		}
		if current, err := b.store.GetJob(ctx, trainingID); err == nil {
			job = current
		}
	}
	return job, nil
}

// stashEarly keeps the latest callback per id, up to maxEarlyCallbacks.
func (b *Bridge) stashEarly(cb Callback) bool {
	if b.inflight.Load() == 0 {
		return false
	}
	b.earlyMu.Lock()
	defer b.earlyMu.Unlock()
	if _, ok := b.early[cb.ID]; !ok && len(b.early) >= maxEarlyCallbacks {
		return false
	}
	b.early[cb.ID] = cb
	return true
}

func (b *Bridge) takeEarly(trainingID string) (Callback, bool) {
	b.earlyMu.Lock()
	defer b.earlyMu.Unlock()
	cb, ok := b.early[trainingID]
	delete(b.early, trainingID)
	return cb, ok
}

func (b *Bridge) refund(ctx context.Context, userID string) {
	if b.cfg.CreditCost <= 0 {
		return
	}
	if _, err := b.credits.AddCredits(ctx, userID, b.cfg.CreditCost); err != nil {
		b.logger.Error("refund after rejected submission failed", zap.String("user_id", userID), zap.Int("credits", b.cfg.CreditCost), zap.Error(err))
	}
}

// Callback is the trainer's status notification.
type Callback struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  json.RawMessage `json:"error"`
}

// OnCallback applies a trainer notification. Unknown ids and callbacks for
// jobs that are already terminal are no-ops.
func (b *Bridge) OnCallback(ctx context.Context, cb Callback) error {
	log := b.logger.With(zap.String("training_id", cb.ID), zap.String("status", cb.Status))
	job, err := b.store.GetJob(ctx, cb.ID)
	if errors.Is(err, domainErr.ErrNotFound) {
		if b.stashEarly(cb) {
			log.Info("callback arrived before job was recorded, holding it")
			return nil
		}
		log.Warn("callback for unknown job ignored")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job %s: %w", cb.ID, err)
	}
	if job.Status.Terminal() {
		log.Info("callback for finished job ignored", zap.String("current", string(job.Status)))
		return nil
	}

	switch Status(cb.Status) {
	case StatusStarting, StatusProcessing:
		if _, err := b.store.UpdateProgress(ctx, job.TrainingID, Status(cb.Status)); err != nil {
			return fmt.Errorf("update job %s: %w", job.TrainingID, err)
		}
		return nil
	case "succeeded", StatusCompleted:
		return b.complete(ctx, job, cb.Output)
	case StatusFailed, StatusCanceled:
		return b.finish(ctx, job, Outcome{Status: Status(cb.Status), Error: errorText(cb.Error)})
	default:
		log.Warn("unrecognized trainer status")
		return nil
	}
}

func (b *Bridge) complete(ctx context.Context, job *TrainingJob, output json.RawMessage) error {
	out, err := ClassifyOutput(output)
	if err != nil {
		return b.finish(ctx, job, Outcome{Status: StatusFailed, Error: err.Error()})
	}
	src, err := out.ResultURL()
	if err != nil {
		return b.finish(ctx, job, Outcome{Status: StatusFailed, Error: err.Error()})
	}
	stored, err := b.persist(ctx, job, src)
	if err != nil {
		b.logger.Error("result persistence failed", zap.String("training_id", job.TrainingID), zap.String("source", src), zap.Error(err))
		return b.finish(ctx, job, Outcome{Status: StatusFailed, Error: "persist result: " + err.Error()})
	}
	return b.finish(ctx, job, Outcome{Status: StatusCompleted, ResultURL: stored})
}

// persist copies the trainer's temporary artifact to "{userId}/{jobId}{ext}".
func (b *Bridge) persist(ctx context.Context, job *TrainingJob, src string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", err
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download: status %d", resp.StatusCode)
	}
	if resp.ContentLength > b.cfg.MaxArtifactBytes {
		return "", fmt.Errorf("download: artifact is %d bytes, limit %d", resp.ContentLength, b.cfg.MaxArtifactBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := StorageKey(job.UserID, job.TrainingID, src)
	body := &cappedReader{r: resp.Body, max: b.cfg.MaxArtifactBytes}
	stored, err := b.blobs.Put(ctx, key, contentType, body)
	if body.exceeded {
		return "", fmt.Errorf("download: %w (%d bytes)", ErrArtifactTooLarge, b.cfg.MaxArtifactBytes)
	}
	if err != nil {
		return "", err
	}
	return stored, nil
}

// cappedReader errors, rather than reporting EOF, once more than max bytes
// have been read.
type cappedReader struct {
	r        io.Reader
	max      int64
	n        int64
	exceeded bool
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.exceeded {
		return 0, ErrArtifactTooLarge
	}
	n, err := c.r.Read(p)
	c.n += int64(n)
	if c.n > c.max {
		c.exceeded = true
		return 0, ErrArtifactTooLarge
	}
	return n, err
}

// StorageKey is "{userId}/{jobId}" plus the source file extension.
func StorageKey(userID, jobID, src string) string {
	ext := ""
	if u, err := url.Parse(src); err == nil {
		ext = path.Ext(u.Path)
	}
	return userID + "/" + jobID + ext
}

func (b *Bridge) finish(ctx context.Context, job *TrainingJob, out Outcome) error {
	out.FinishedAt = b.now().UTC()
	applied, err := b.store.FinishJob(ctx, job.TrainingID, out)
	if err != nil {
		return fmt.Errorf("finish job %s: %w", job.TrainingID, err)
	}
	if !applied {
		b.logger.Info("concurrent callback already finished job", zap.String("training_id", job.TrainingID))
		return nil
	}

	eventType := events.JobFailed
	if out.Status == StatusCompleted {
		eventType = events.JobCompleted
	}
	b.logger.Info("training finished", zap.String("training_id", job.TrainingID), zap.String("status", string(out.Status)), zap.String("error", out.Error))
	events.Emit(ctx, b.events, b.logger, job.UserID, eventType, events.JobData{
		JobID: job.TrainingID, UserID: job.UserID, Status: string(out.Status), ResultURL: out.ResultURL, Error: out.Error,
	})
	return nil
}

// JobView is what pollers see.
type JobView struct {
	JobID     string `json:"jobId"`
	Status    Status `json:"status"`
	ResultURL string `json:"resultUrl,omitempty"`
	Error     string `json:"error,omitempty"`
	OwnerID   string `json:"-"`
}

// PollStatus is read-only. Unknown ids report StatusNotFound.
func (b *Bridge) PollStatus(ctx context.Context, jobID string) (JobView, error) {
	job, err := b.store.GetJob(ctx, jobID)
	if errors.Is(err, domainErr.ErrNotFound) {
		return JobView{JobID: jobID, Status: StatusNotFound}, nil
	}
	if err != nil {
		return JobView{}, fmt.Errorf("load job %s: %w", jobID, err)
	}
	view := JobView{JobID: job.TrainingID, Status: job.Status, Error: job.Error, OwnerID: job.UserID}
	if job.Status == StatusCompleted {
		view.ResultURL = job.ResultURL
	}
	return view, nil
}

func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
