// internal/queue/queue.go
package queue

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/PetroSa2/petrosa-socket-client/internal/metrics"
	"github.com/PetroSa2/petrosa-socket-client/pkg/logger"
)

// Item — один кадр в очереди: имя стрима и распарсенный payload.
type Item struct {
	Stream string
	Data   map[string]any
}

// Queue — bounded FIFO между WS-reader-ом (единственный producer) и worker-пулом.
// При переполнении входящий кадр отбрасывается: reader не должен блокироваться,
// иначе TCP receive window заполнится и удалённая сторона разорвёт соединение.
type Queue struct {
	ch       chan Item
	capacity int

	dropped     atomic.Uint64
	lastWarnNS  atomic.Int64
	logThrottle time.Duration

	closeOnce sync.Once
	log       *logger.Logger
}

// New создаёт очередь ёмкостью capacity (default 5000).
// logThrottle ограничивает частоту warn-логов о переполнении (default 1s).
func New(capacity int, logThrottle time.Duration, log *logger.Logger) *Queue {
	if capacity <= 0 {
		capacity = 5000
	}
	if logThrottle <= 0 {
		logThrottle = time.Second
	}
	return &Queue{
		ch:          make(chan Item, capacity),
		capacity:    capacity,
		logThrottle: logThrottle,
		log:         log.Named("queue"),
	}
}

// Enqueue кладёт кадр в очередь без блокировки.
// При заполненной очереди кадр отбрасывается, dropped_total инкрементируется,
// warn пишется не чаще одного раза за logThrottle.
func (q *Queue) Enqueue(it Item) bool {
	select {
	case q.ch <- it:
		metrics.QueueSize.Set(float64(len(q.ch)))
		return true
	default:
	}

	dropped := q.dropped.Add(1)
	metrics.DroppedTotal.Inc()

	now := time.Now().UnixNano()
	last := q.lastWarnNS.Load()
	if now-last >= q.logThrottle.Nanoseconds() && q.lastWarnNS.CompareAndSwap(last, now) {
		q.log.Sugar().Warnw("queue full, dropping frame",
			"stream", it.Stream,
			"dropped_total", dropped,
			"capacity", q.capacity,
		)
	}
	return false
}

// Dequeue блокируется до появления кадра или закрытия очереди.
// ok == false означает, что очередь закрыта и пуста.
func (q *Queue) Dequeue() (Item, bool) {
	it, ok := <-q.ch
	if ok {
		metrics.QueueSize.Set(float64(len(q.ch)))
	}
	return it, ok
}

// Chan отдаёт канал чтения для select-циклов worker-ов.
func (q *Queue) Chan() <-chan Item { return q.ch }

// Close закрывает очередь для producer-а. Consumer-ы дочитывают остаток.
// Повторные вызовы безопасны.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
}

// Len возвращает текущее число кадров в очереди.
func (q *Queue) Len() int { return len(q.ch) }

// Cap возвращает ёмкость очереди.
func (q *Queue) Cap() int { return q.capacity }

// Dropped возвращает число отброшенных на enqueue кадров.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }
