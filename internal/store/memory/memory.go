// internal/store/memory/memory.go
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domainErr "github.com/Leiito98/glowshot-ledger/internal/domain/errors"
	"github.com/Leiito98/glowshot-ledger/internal/jobs"
	"github.com/Leiito98/glowshot-ledger/internal/payment"
)

// MemoryStore keeps the whole ledger in process memory. It backs dev mode
// (STORE_DRIVER=memory) and the package tests.
type MemoryStore struct {
	mu       sync.RWMutex
	credits  map[string]int
	plans    map[string]string
	payments map[string]payment.PaymentRecord
	jobs     map[string]jobs.TrainingJob
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		credits:  make(map[string]int),
		plans:    make(map[string]string),
		payments: make(map[string]payment.PaymentRecord),
		jobs:     make(map[string]jobs.TrainingJob),
	}
}

type txKey struct{}

// txJournal collects undo steps for the writes made inside one RunInTx.
type txJournal struct {
	mu    sync.Mutex
	store *MemoryStore
	undo  []func()
}

func (j *txJournal) rollback() {
	j.mu.Lock()
	store, undo := j.store, j.undo
	j.undo = nil
	j.mu.Unlock()
	if store == nil {
		return
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
}

// journal registers undo when ctx carries a transaction. Callers hold s.mu.
func (s *MemoryStore) journal(ctx context.Context, undo func()) {
	j, ok := ctx.Value(txKey{}).(*txJournal)
	if !ok {
		return
	}
	j.mu.Lock()
	j.store = s
	j.undo = append(j.undo, undo)
	j.mu.Unlock()
}

func (s *MemoryStore) restorePayment(id string, prev payment.PaymentRecord, existed bool) func() {
	return func() {
		if existed {
			s.payments[id] = prev
		} else {
			delete(s.payments, id)
		}
	}
}

func (s *MemoryStore) restoreJob(id string, prev jobs.TrainingJob, existed bool) func() {
	return func() {
		if existed {
			s.jobs[id] = prev
		} else {
			delete(s.jobs, id)
		}
	}
}

func checkCtx(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// ---- credits.Store ----

func (s *MemoryStore) GetCredits(ctx context.Context, userID string) (int, error) {
	if err := checkCtx(ctx); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credits[userID], nil
}

func (s *MemoryStore) AddCredits(ctx context.Context, userID string, delta int) (int, error) {
	if err := checkCtx(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credits[userID] += delta
	s.journal(ctx, func() { s.credits[userID] -= delta })
	return s.credits[userID], nil
}

func (s *MemoryStore) ConsumeCredits(ctx context.Context, userID string, amount int) (int, error) {
	if err := checkCtx(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.credits[userID] < amount {
		return s.credits[userID], domainErr.ErrInsufficientCredits
	}
	s.credits[userID] -= amount
	s.journal(ctx, func() { s.credits[userID] += amount })
	return s.credits[userID], nil
}

// ---- credits.PlanStore ----

func (s *MemoryStore) SetPlan(ctx context.Context, userID, planID string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.plans[userID]
	s.journal(ctx, func() {
		if had {
			s.plans[userID] = prev
		} else {
			delete(s.plans, userID)
		}
	})
	s.plans[userID] = planID
	return nil
}

func (s *MemoryStore) GetPlan(ctx context.Context, userID string) (string, error) {
	if err := checkCtx(ctx); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[userID]
	if !ok {
		return "", domainErr.ErrNotFound
	}
	return p, nil
}

// ---- payment.PaymentStore ----

func (s *MemoryStore) InsertPayment(ctx context.Context, rec *payment.PaymentRecord) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.payments[rec.PaymentID]; exists {
		return domainErr.ErrDuplicateEvent
	}
	row := *rec
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	s.journal(ctx, s.restorePayment(rec.PaymentID, payment.PaymentRecord{}, false))
	s.payments[rec.PaymentID] = row
	return nil
}

func (s *MemoryStore) PromoteToApproved(ctx context.Context, rec *payment.PaymentRecord) (bool, error) {
	if err := checkCtx(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.payments[rec.PaymentID]
	if !ok || row.Credited || row.Status == payment.StatusApproved {
		return false, nil
	}
	s.journal(ctx, s.restorePayment(rec.PaymentID, row, true))
	row.Status = payment.StatusApproved
	row.UserID = rec.UserID
	row.PlanID = rec.PlanID
	row.Amount = rec.Amount
	row.Currency = rec.Currency
	row.RawPayload = rec.RawPayload
	s.payments[rec.PaymentID] = row
	return true, nil
}

func (s *MemoryStore) GetPayment(ctx context.Context, paymentID string) (*payment.PaymentRecord, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.payments[paymentID]
	if !ok {
		return nil, domainErr.ErrNotFound
	}
	return &row, nil
}

// GetPaymentForUpdate has no row lock of its own; TxManager serializes
// transactions instead.
func (s *MemoryStore) GetPaymentForUpdate(ctx context.Context, paymentID string) (*payment.PaymentRecord, error) {
	return s.GetPayment(ctx, paymentID)
}

func (s *MemoryStore) MarkCredited(ctx context.Context, paymentID string, at time.Time) (bool, error) {
	if err := checkCtx(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.payments[paymentID]
	if !ok {
		return false, domainErr.ErrNotFound
	}
	if row.Credited {
		return false, nil
	}
	s.journal(ctx, s.restorePayment(paymentID, row, true))
	row.Credited = true
	row.CreditedAt = &at
	s.payments[paymentID] = row
	return true, nil
}

func (s *MemoryStore) ListUncredited(ctx context.Context, limit int, olderThan time.Duration) ([]*payment.PaymentRecord, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-olderThan)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*payment.PaymentRecord
	for _, row := range s.payments {
		if row.Credited || !row.Status.Sweepable() || row.CreatedAt.After(cutoff) {
			continue
		}
		r := row
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return sweepBefore(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// sweepBefore mirrors the postgres ordering: never swept, least recently
// swept, approved, oldest.
func sweepBefore(a, b *payment.PaymentRecord) bool {
	switch {
	case a.SweptAt == nil && b.SweptAt != nil:
		return true
	case a.SweptAt != nil && b.SweptAt == nil:
		return false
	case a.SweptAt != nil && !a.SweptAt.Equal(*b.SweptAt):
		return a.SweptAt.Before(*b.SweptAt)
	}
	aa, ba := a.Status == payment.StatusApproved, b.Status == payment.StatusApproved
	if aa != ba {
		return aa
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (s *MemoryStore) MarkSwept(ctx context.Context, paymentID string, at time.Time) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.payments[paymentID]
	if !ok {
		return domainErr.ErrNotFound
	}
	s.journal(ctx, s.restorePayment(paymentID, row, true))
	row.SweptAt = &at
	s.payments[paymentID] = row
	return nil
}

// ---- jobs.JobStore ----

func (s *MemoryStore) CreateJob(ctx context.Context, job *jobs.TrainingJob) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.TrainingID]; exists {
		return domainErr.ErrDuplicateEvent
	}
	s.journal(ctx, s.restoreJob(job.TrainingID, jobs.TrainingJob{}, false))
	s.jobs[job.TrainingID] = *job
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, trainingID string) (*jobs.TrainingJob, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[trainingID]
	if !ok {
		return nil, domainErr.ErrNotFound
	}
	return &job, nil
}

func (s *MemoryStore) UpdateProgress(ctx context.Context, trainingID string, status jobs.Status) (bool, error) {
	if err := checkCtx(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[trainingID]
	if !ok {
		return false, domainErr.ErrNotFound
	}
	if job.Status.Terminal() {
		return false, nil
	}
	s.journal(ctx, s.restoreJob(trainingID, job, true))
	job.Status = status
	job.UpdatedAt = time.Now().UTC()
	s.jobs[trainingID] = job
	return true, nil
}

func (s *MemoryStore) FinishJob(ctx context.Context, trainingID string, out jobs.Outcome) (bool, error) {
	if err := checkCtx(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[trainingID]
	if !ok {
		return false, domainErr.ErrNotFound
	}
	if job.Status.Terminal() {
		return false, nil
	}
	s.journal(ctx, s.restoreJob(trainingID, job, true))
	finished := out.FinishedAt
	job.Status = out.Status
	job.ResultURL = out.ResultURL
	job.Error = out.Error
	job.FinishedAt = &finished
	job.UpdatedAt = finished
	s.jobs[trainingID] = job
	return true, nil
}

// TxManager serializes transactions. Writes made through a MemoryStore with
// the transaction's ctx are undone when fn fails or panics.
type TxManager struct {
	mu sync.Mutex
}

func NewTxManager() *TxManager {
	return &TxManager{}
}

func (tm *TxManager) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	j := &txJournal{}
	defer func() {
		if p := recover(); p != nil {
			j.rollback()
			panic(p)
		}
		if err != nil {
			j.rollback()
		}
	}()
	return fn(context.WithValue(ctx, txKey{}, j))
}
