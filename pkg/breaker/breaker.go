// pkg/breaker/breaker.go
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/PetroSa2/petrosa-socket-client/pkg/logger"
)

// ErrBreakerOpen возвращается, когда breaker открыт и вызов отклонён без выполнения.
var ErrBreakerOpen = errors.New("breaker: circuit is open")

// State — состояние автомата breaker-а.
type State int32

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Predicate решает, считать ли ошибку «засчитываемой» для счётчика отказов.
// Ошибки, для которых предикат возвращает false, проходят сквозь breaker без учёта.
type Predicate func(error) bool

// Config задаёт пороги breaker-а.
type Config struct {
	Name             string        // имя для логов и снапшота
	FailureThreshold int           // число подряд засчитанных отказов до Open (default 5)
	RecoveryTimeout  time.Duration // пауза до Half-Open (default 60s)
	IsFailure        Predicate     // nil → любая ошибка засчитывается
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 60 * time.Second
	}
	if c.IsFailure == nil {
		c.IsFailure = func(error) bool { return true }
	}
}

// Snapshot — read-only срез состояния breaker-а.
type Snapshot struct {
	Name         string    `json:"name"`
	State        string    `json:"state"`
	FailureCount int       `json:"failure_count"`
	OpenedAt     time.Time `json:"opened_at,omitempty"`
}

// Breaker — потокобезопасный circuit breaker: Closed → Open → HalfOpen.
// В HalfOpen пробный вызов выполняет ровно один caller, остальные получают ErrBreakerOpen.
type Breaker struct {
	cfg Config
	log *logger.Logger
	now func() time.Time

	mu           sync.Mutex
	state        State
	failureCount int
	openedAt     time.Time
	trialActive  bool
}

// New создаёт Breaker в состоянии Closed.
func New(cfg Config, log *logger.Logger) *Breaker {
	cfg.applyDefaults()
	return &Breaker{
		cfg:   cfg,
		log:   log.Named("breaker-" + cfg.Name),
		now:   time.Now,
		state: Closed,
	}
}

// Execute выполняет fn под защитой breaker-а.
// В состоянии Open возвращает ErrBreakerOpen без вызова fn.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.acquire(); err != nil {
		return err
	}

	err := fn(ctx)
	b.record(err)
	return err
}

// acquire проверяет допустимость вызова и резервирует пробный слот в HalfOpen.
func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return nil
	case Open:
		if b.now().Sub(b.openedAt) >= b.cfg.RecoveryTimeout {
			b.state = HalfOpen
			b.trialActive = true
			b.log.Sugar().Infow("breaker half-open, probing", "name", b.cfg.Name)
			return nil
		}
		return fmt.Errorf("%w (name=%s)", ErrBreakerOpen, b.cfg.Name)
	case HalfOpen:
		if b.trialActive {
			// пробный вызов уже выполняется другим caller-ом
			return fmt.Errorf("%w (name=%s)", ErrBreakerOpen, b.cfg.Name)
		}
		b.trialActive = true
		return nil
	}
	return nil
}

// record фиксирует исход вызова и выполняет переходы состояния.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen {
		b.trialActive = false
	}

	if err == nil {
		if b.state == HalfOpen {
			b.log.Sugar().Infow("breaker closed after successful probe", "name", b.cfg.Name)
		}
		b.state = Closed
		b.failureCount = 0
		return
	}

	if !b.cfg.IsFailure(err) {
		// не засчитываемая ошибка проходит сквозь breaker
		return
	}

	switch b.state {
	case HalfOpen:
		b.state = Open
		b.openedAt = b.now()
		b.log.Sugar().Warnw("breaker re-opened after failed probe",
			"name", b.cfg.Name, "error", err)
	case Closed:
		b.failureCount++
		b.log.Sugar().Warnw("breaker failure recorded",
			"name", b.cfg.Name,
			"failure_count", b.failureCount,
			"threshold", b.cfg.FailureThreshold)
		if b.failureCount >= b.cfg.FailureThreshold {
			b.state = Open
			b.openedAt = b.now()
			b.log.Sugar().Errorw("breaker opened due to failure threshold",
				"name", b.cfg.Name, "failure_count", b.failureCount)
		}
	}
}

// State возвращает текущее состояние.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// GetSnapshot возвращает срез состояния для метрик и heartbeat-а.
func (b *Breaker) GetSnapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:         b.cfg.Name,
		State:        b.state.String(),
		FailureCount: b.failureCount,
		OpenedAt:     b.openedAt,
	}
}
