package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/shaiso/Anomalix/internal/domain"
	"github.com/shaiso/Anomalix/internal/repo"
)

// --- fakes ---

type fakeStore struct {
	mu      sync.Mutex
	records map[string]*domain.AnomalyRecord
	inserts int
	lookups int

	// existsErrs — ошибки для первых вызовов EventExists, по одной на вызов.
	existsErrs []error
	insertErr  error

	// concurrentScore — перед Insert «другой воркер» сохраняет запись с этой оценкой.
	concurrentScore *float64
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*domain.AnomalyRecord)}
}

func (s *fakeStore) EventExists(_ context.Context, eventID string) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lookups++
	if len(s.existsErrs) > 0 {
		err := s.existsErrs[0]
		s.existsErrs = s.existsErrs[1:]
		return 0, false, err
	}

	rec, ok := s.records[eventID]
	if !ok {
		return 0, false, nil
	}
	return rec.AnomalyScore, true, nil
}

func (s *fakeStore) Insert(_ context.Context, rec *domain.AnomalyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.insertErr != nil {
		return s.insertErr
	}
	if s.concurrentScore != nil {
		other := *rec
		other.AnomalyScore = *s.concurrentScore
		s.records[rec.EventID] = &other
		s.concurrentScore = nil
	}
	if _, ok := s.records[rec.EventID]; ok {
		return fmt.Errorf("insert anomaly %s: %w", rec.EventID, repo.ErrAlreadyExists)
	}

	s.inserts++
	s.records[rec.EventID] = rec
	return nil
}

func (s *fakeStore) insertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserts
}

type recordingNotifier struct {
	mu      sync.Mutex
	records []*domain.AnomalyRecord
	err     error
}

func (n *recordingNotifier) AnomalyDetected(_ context.Context, rec *domain.AnomalyRecord) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.records = append(n.records, rec)
	return n.err
}

func fixedScore(score float64) Scorer {
	return ScorerFunc(func(context.Context, domain.Event) (float64, error) {
		return score, nil
	})
}

func fakeEvent() domain.Event {
	return domain.Event{
		RequestID:      gofakeit.UUID(),
		EventID:        gofakeit.UUID(),
		RoleID:         gofakeit.JobTitle(),
		EventType:      gofakeit.RandomString([]string{"login", "logout", "privilege_change"}),
		EventTimestamp: gofakeit.Date().Format(time.RFC3339),
		AffectedAssets: []string{gofakeit.DomainName()},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var noRetryDelay = RetryPolicy{MaxAttempts: 3, Backoff: BackoffFixed, InitialDelay: time.Millisecond}

func newTestWorker(store Store, scorer Scorer, threshold float64) *Worker {
	return New(Config{
		Store:       store,
		Scorer:      scorer,
		Threshold:   threshold,
		ExistsRetry: &noRetryDelay,
		Logger:      discardLogger(),
	})
}

// --- Process Tests ---

func TestProcess_WorkedExample(t *testing.T) {
	store := newFakeStore()
	w := newTestWorker(store, fixedScore(0.9), 0.5)

	event := fakeEvent()
	event.EventID = "e1"

	resp, err := w.Process(context.Background(), event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != domain.StatusAnomalyDetected {
		t.Errorf("expected 201, got %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Message, "e1") {
		t.Errorf("message should mention event id: %q", resp.Message)
	}

	// Повторная отправка — сохранённая оценка, без второй вставки
	resp, err = w.Process(context.Background(), event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != domain.StatusAlreadyProcessed {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Message, "0.9") {
		t.Errorf("message should mention stored score: %q", resp.Message)
	}
	if store.insertCount() != 1 {
		t.Errorf("expected exactly 1 insert, got %d", store.insertCount())
	}
}

func TestProcess_DedupSkipsScoring(t *testing.T) {
	store := newFakeStore()
	event := fakeEvent()
	store.records[event.EventID] = domain.NewAnomalyRecord(event, 0.73)

	scored := false
	w := newTestWorker(store, ScorerFunc(func(context.Context, domain.Event) (float64, error) {
		scored = true
		return 1, nil
	}), 0)

	resp, err := w.Process(context.Background(), event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != domain.AlreadyProcessed(event.EventID, 0.73) {
		t.Errorf("unexpected response: %+v", resp)
	}
	if scored {
		t.Error("already processed event must not be scored")
	}
}

func TestProcess_AtOrBelowThreshold(t *testing.T) {
	for _, score := range []float64{0, 0.3, 0.5} {
		t.Run(fmt.Sprint(score), func(t *testing.T) {
			store := newFakeStore()
			w := newTestWorker(store, fixedScore(score), 0.5)
			event := fakeEvent()

			resp, err := w.Process(context.Background(), event)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp != domain.NoAnomaly(event.EventID) {
				t.Errorf("expected 204, got %+v", resp)
			}
			if store.insertCount() != 0 {
				t.Error("nothing should be stored below the threshold")
			}
		})
	}
}

func TestProcess_InsertFailure(t *testing.T) {
	store := newFakeStore()
	store.insertErr = errors.New("connection reset by peer")
	w := newTestWorker(store, fixedScore(0.9), 0)

	resp, err := w.Process(context.Background(), fakeEvent())
	if err != nil {
		t.Fatalf("insert failure is an answer, not an error: %v", err)
	}
	if resp.StatusCode != domain.StatusFailed {
		t.Errorf("expected 500, got %d", resp.StatusCode)
	}
	if resp.Message != "Failed to insert event into the database: connection reset by peer" {
		t.Errorf("unexpected message: %q", resp.Message)
	}
}

func TestProcess_ConcurrentInsertResolvedAsDedup(t *testing.T) {
	store := newFakeStore()
	other := 0.42
	store.concurrentScore = &other

	notifier := &recordingNotifier{}
	w := newTestWorker(store, fixedScore(0.9), 0)
	w.notifier = notifier

	event := fakeEvent()
	resp, err := w.Process(context.Background(), event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != domain.AlreadyProcessed(event.EventID, 0.42) {
		t.Errorf("expected stored score of the winning insert, got %+v", resp)
	}
	if len(notifier.records) != 0 {
		t.Error("losing insert must not notify")
	}
}

func TestProcess_MissingEventID(t *testing.T) {
	w := newTestWorker(newFakeStore(), fixedScore(0.9), 0)

	event := fakeEvent()
	event.EventID = ""

	if _, err := w.Process(context.Background(), event); !errors.Is(err, ErrMissingEventID) {
		t.Errorf("expected ErrMissingEventID, got %v", err)
	}
}

func TestProcess_LookupRetried(t *testing.T) {
	store := newFakeStore()
	store.existsErrs = []error{errors.New("timeout"), errors.New("timeout")}
	w := newTestWorker(store, fixedScore(0.1), 0.5)

	resp, err := w.Process(context.Background(), fakeEvent())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != domain.StatusNoAnomaly {
		t.Errorf("expected 204, got %d", resp.StatusCode)
	}
	if store.lookups != 3 {
		t.Errorf("expected 3 lookups, got %d", store.lookups)
	}
}

func TestProcess_LookupExhausted(t *testing.T) {
	store := newFakeStore()
	down := errors.New("db down")
	store.existsErrs = []error{down, down, down}
	w := newTestWorker(store, fixedScore(0.9), 0)

	_, err := w.Process(context.Background(), fakeEvent())
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("expected ErrRetryExhausted, got %v", err)
	}
	if !errors.Is(err, down) {
		t.Errorf("expected wrapped cause, got %v", err)
	}
	if store.insertCount() != 0 {
		t.Error("nothing should be stored")
	}
}

func TestProcess_ScorerTimeout(t *testing.T) {
	slow := ScorerFunc(func(ctx context.Context, _ domain.Event) (float64, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})

	w := New(Config{
		Store:       newFakeStore(),
		Scorer:      slow,
		CallTimeout: 20 * time.Millisecond,
		Logger:      discardLogger(),
	})

	_, err := w.Process(context.Background(), fakeEvent())
	if !errors.Is(err, ErrCallTimeout) {
		t.Errorf("expected ErrCallTimeout, got %v", err)
	}
}

func TestProcess_NotifierFailureDoesNotChangeResponse(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("nats: no servers available")}
	w := newTestWorker(newFakeStore(), fixedScore(0.9), 0)
	w.notifier = notifier

	event := fakeEvent()
	resp, err := w.Process(context.Background(), event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != domain.AnomalyDetected(event.EventID, 0.9) {
		t.Errorf("unexpected response: %+v", resp)
	}
	if len(notifier.records) != 1 || notifier.records[0].EventID != event.EventID {
		t.Errorf("expected one notification for %s, got %v", event.EventID, notifier.records)
	}
}

// --- Backoff Tests ---

func TestCalculateBackoff_Exponential(t *testing.T) {
	policy := RetryPolicy{
		Backoff:      BackoffExponential,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second}, // capped at max
		{6, 10 * time.Second}, // stays at max
	}

	for _, tt := range tests {
		got := calculateBackoff(tt.attempt, policy)
		if got != tt.expected {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.expected, got)
		}
	}
}

func TestCalculateBackoff_Fixed(t *testing.T) {
	policy := RetryPolicy{
		Backoff:      BackoffFixed,
		InitialDelay: 2 * time.Second,
		MaxDelay:     10 * time.Second,
	}

	// Все попытки — одинаковая задержка
	for attempt := 1; attempt <= 5; attempt++ {
		got := calculateBackoff(attempt, policy)
		if got != 2*time.Second {
			t.Errorf("attempt %d: expected 2s, got %v", attempt, got)
		}
	}
}

func TestCalculateBackoff_ZeroValues(t *testing.T) {
	got := calculateBackoff(1, RetryPolicy{Backoff: BackoffExponential})
	if got != time.Second {
		t.Errorf("expected 1s default for zero InitialDelay, got %v", got)
	}
}

func TestWithRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxAttempts: 10, Backoff: BackoffFixed, InitialDelay: time.Hour}

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := withRetry(ctx, policy, func(context.Context) error {
		calls++
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call before cancel, got %d", calls)
	}
}

// --- Registry Tests ---

func TestNewRegistry_DefaultScorer(t *testing.T) {
	r := NewRegistry()

	s, err := r.Get(DefaultScorer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	score, err := s.Score(context.Background(), fakeEvent())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score < 0 || score >= 1 {
		t.Errorf("random score out of range: %v", score)
	}
}

func TestRegistry_UnknownScorer(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Get("isolation-forest"); !errors.Is(err, ErrUnknownScorer) {
		t.Errorf("expected ErrUnknownScorer, got %v", err)
	}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	r.Register("always", fixedScore(1))

	names := r.Names()
	if len(names) != 2 || names[0] != "always" || names[1] != DefaultScorer {
		t.Errorf("unexpected names: %v", names)
	}
}

// --- Worker Tests ---

func TestNew_DefaultConfig(t *testing.T) {
	w := New(Config{})

	if w.queue != "anomaly_events" {
		t.Errorf("expected default queue, got %q", w.queue)
	}
	if w.callTimeout != defaultCallTimeout {
		t.Errorf("expected default call timeout %v, got %v", defaultCallTimeout, w.callTimeout)
	}
	if w.prefetch != defaultPrefetch {
		t.Errorf("expected prefetch %d, got %d", defaultPrefetch, w.prefetch)
	}
	if _, ok := w.scorer.(RandomScorer); !ok {
		t.Errorf("expected RandomScorer by default, got %T", w.scorer)
	}
	if w.existsRetry != DefaultRetryPolicy {
		t.Errorf("expected default retry policy, got %+v", w.existsRetry)
	}
}

func TestWorker_IsStopped(t *testing.T) {
	w := New(Config{})

	if w.IsStopped() {
		t.Error("should not be stopped initially")
	}

	w.Stop()

	if !w.IsStopped() {
		t.Error("should be stopped")
	}
}
