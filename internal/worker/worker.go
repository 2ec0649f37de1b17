package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Anomalix/internal/domain"
	"github.com/shaiso/Anomalix/internal/mq"
)

// Default configuration values.
const (
	defaultCallTimeout = 5 * time.Second
	defaultPrefetch    = 1
)

// Store — хранилище оценок (repo.AnomalyRepo).
type Store interface {
	// EventExists возвращает сохранённую оценку, если событие уже обработано.
	EventExists(ctx context.Context, eventID string) (float64, bool, error)

	// Insert сохраняет запись. Повтор EventID — repo.ErrAlreadyExists.
	Insert(ctx context.Context, rec *domain.AnomalyRecord) error
}

// Notifier сообщает о найденной аномалии. Ошибка не влияет на ответ.
type Notifier interface {
	AnomalyDetected(ctx context.Context, rec *domain.AnomalyRecord) error
}

// Worker обрабатывает события из рабочей очереди.
//
// Для каждого сообщения:
//   - проверяет, не обработан ли EventID (dedup)
//   - оценивает событие и сравнивает оценку с порогом
//   - сохраняет аномалию и публикует ответ в reply-to
//
// Несколько экземпляров потребляют одну очередь (competing consumers),
// уникальность EventID гарантирует БД.
type Worker struct {
	store    Store
	scorer   Scorer
	notifier Notifier

	conn            mq.ChannelProvider
	queue           string
	prefetch        int
	tracker         mq.RedeliveryTracker
	maxRedeliveries int

	threshold   float64
	callTimeout time.Duration
	existsRetry RetryPolicy

	consumer *mq.Consumer

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	errCh      chan error
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	// Store — хранилище оценок.
	Store Store

	// Scorer — модель оценки (default: RandomScorer).
	Scorer Scorer

	// Notifier — опционально, уведомления о найденных аномалиях.
	Notifier Notifier

	// Conn — источник канала RabbitMQ.
	Conn mq.ChannelProvider

	// Queue — рабочая очередь (default: mq.DefaultWorkQueue).
	Queue string

	// Prefetch — сообщений в обработке одновременно (default: 1).
	Prefetch int

	// Tracker — счётчик повторов (default: в памяти).
	Tracker mq.RedeliveryTracker

	// MaxRedeliveries — повторов до отправки в DLQ (default: 5).
	MaxRedeliveries int

	// Threshold — оценка строго выше порога считается аномалией.
	Threshold float64

	// CallTimeout — таймаут одного обращения к БД или scorer'у (default: 5s).
	CallTimeout time.Duration

	// ExistsRetry — повторы проверки существования (default: DefaultRetryPolicy).
	ExistsRetry *RetryPolicy

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	queue := cfg.Queue
	if queue == "" {
		queue = mq.DefaultWorkQueue
	}

	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}

	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}

	scorer := cfg.Scorer
	if scorer == nil {
		scorer = RandomScorer{}
	}

	existsRetry := DefaultRetryPolicy
	if cfg.ExistsRetry != nil {
		existsRetry = *cfg.ExistsRetry
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		store:           cfg.Store,
		scorer:          scorer,
		notifier:        cfg.Notifier,
		conn:            cfg.Conn,
		queue:           queue,
		prefetch:        prefetch,
		tracker:         cfg.Tracker,
		maxRedeliveries: cfg.MaxRedeliveries,
		threshold:       cfg.Threshold,
		callTimeout:     callTimeout,
		existsRetry:     existsRetry,
		logger:          logger,
		errCh:           make(chan error, 1),
	}
}

// Start запускает consumer рабочей очереди в фоне.
//
// Фатальная ошибка consumer'а (не удалось отправить ответ) приходит в Errors().
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker",
		"queue", w.queue,
		"threshold", w.threshold,
		"call_timeout", w.callTimeout,
	)

	w.consumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
		Queue:           w.queue,
		Handler:         w.handleEvent,
		Prefetch:        w.prefetch,
		Tracker:         w.tracker,
		MaxRedeliveries: w.maxRedeliveries,
		OnDeadLetter:    w.handleDeadLetter,
	})

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("event consumer error", "error", err)
			w.errCh <- err
		}
	}()

	w.logger.Info("worker started")
	return nil
}

// Errors возвращает канал фатальных ошибок consumer'а.
func (w *Worker) Errors() <-chan error {
	return w.errCh
}

// Stop останавливает Worker и ждёт завершения обработки текущего сообщения.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}

	if w.consumer != nil {
		w.consumer.Stop()
	}

	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}
