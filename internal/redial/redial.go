// Package redial implements automatic redial of outgoing calls that fail
// with a retryable disconnect cause.
//
// The controller moves through Idle → Dialed → (Connected | Scheduled →
// Dialed). At most one redial is pending at any time, and a dial session
// never schedules more than Config.MaxRetries attempts.
package redial

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/flowpbx/callcore/internal/call"
)

// ErrNothingToRedial is returned by Redial when no number has been dialed yet.
var ErrNothingToRedial = errors.New("no previously dialed number")

// Dialer places an outgoing call.
type Dialer interface {
	Dial(ctx context.Context, number, account string) error
}

// Timer is a pending scheduled callback.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules fn to run once after d.
type AfterFunc func(d time.Duration, fn func()) Timer

func stdAfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// Config holds the auto-redial settings.
type Config struct {
	Enabled    bool
	MaxRetries int
	Delay      time.Duration
}

// retryable is the allow-list of causes that trigger an automatic redial.
// Causes not listed here, normal hangups in particular, never do.
var retryable = map[call.DisconnectCause]bool{
	call.CauseBusy:     true,
	call.CauseCanceled: true,
	call.CauseError:    true,
	call.CauseRejected: true,
	call.CauseUnknown:  true,
}

// Retryable reports whether cause is on the auto-redial allow-list.
func Retryable(cause call.DisconnectCause) bool {
	return retryable[cause]
}

// Status is a snapshot of the controller state.
type Status struct {
	Active     bool   `json:"active"`
	Number     string `json:"number,omitempty"`
	Account    string `json:"account,omitempty"`
	RetryCount int    `json:"retry_count"`
	Pending    bool   `json:"pending"`
	Scheduled  int    `json:"scheduled_total"`
}

// Controller tracks the last dialed number and schedules delayed redials.
// All methods are safe for concurrent use.
type Controller struct {
	dialer    Dialer
	afterFunc AfterFunc
	logger    *slog.Logger

	mu         sync.Mutex
	cfg        Config
	number     string
	account    string
	retryCount int
	active     bool
	inFlight   bool // a redial issued by this controller has not reported back yet
	pending    Timer
	generation uint64 // bumped on every schedule and cancel
	scheduled  int    // lifetime count of scheduled attempts
}

// New creates a redial controller.
func New(cfg Config, dialer Dialer, logger *slog.Logger) *Controller {
	return &Controller{
		dialer:    dialer,
		afterFunc: stdAfterFunc,
		cfg:       cfg,
		logger:    logger.With("subsystem", "redial"),
	}
}

// SetAfterFunc replaces the timer implementation. Intended for tests.
func (c *Controller) SetAfterFunc(fn AfterFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.afterFunc = fn
}

// SetConfig replaces the redial settings.
func (c *Controller) SetConfig(cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
}

// Config returns the current redial settings.
func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// OnDialed records a newly placed outgoing call. A user-initiated dial
// starts a new dial session with a zero retry count; the call placed by a
// scheduled redial keeps the session's count.
func (c *Controller) OnDialed(number, account string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inFlight && number == c.number {
		c.inFlight = false
		c.active = true
		return
	}

	c.cancelLocked()
	c.inFlight = false
	c.number = number
	c.account = account
	c.retryCount = 0
	c.active = true

	c.logger.Debug("dial session started", "number", number, "account", account)
}

// OnConnected clears retry pressure: the retry count resets, any pending
// redial is cancelled, and the dial session ends.
func (c *Controller) OnConnected() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelLocked()
	c.retryCount = 0
	c.active = false
	c.inFlight = false
}

// Eligible reports whether a disconnect with the given cause should be
// retried under the current settings.
func (c *Controller) Eligible(cause call.DisconnectCause) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eligibleLocked(cause)
}

func (c *Controller) eligibleLocked(cause call.DisconnectCause) bool {
	return c.cfg.Enabled &&
		c.active &&
		c.retryCount < c.cfg.MaxRetries &&
		c.number != "" &&
		retryable[cause]
}

// OnDisconnected handles the end of the tracked outgoing call and schedules
// a redial if the cause is eligible. It reports whether one was scheduled.
func (c *Controller) OnDisconnected(cause call.DisconnectCause) bool {
	return c.Schedule(cause)
}

// Schedule arms a single delayed redial if cause is eligible, replacing any
// pending one. It reports whether a redial was scheduled.
func (c *Controller) Schedule(cause call.DisconnectCause) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.eligibleLocked(cause) {
		if c.active && c.retryCount >= c.cfg.MaxRetries && c.cfg.MaxRetries > 0 {
			c.logger.Info("redial retries exhausted", "number", c.number, "retries", c.retryCount)
			c.active = false
		}
		return false
	}

	c.cancelLocked()
	c.retryCount++
	c.scheduled++
	gen := c.generation
	c.pending = c.afterFunc(c.cfg.Delay, func() { c.fire(gen) })

	c.logger.Info("redial scheduled",
		"number", c.number,
		"cause", string(cause),
		"attempt", c.retryCount,
		"max_retries", c.cfg.MaxRetries,
		"delay_ms", c.cfg.Delay.Milliseconds(),
	)
	return true
}

// fire runs on the timer goroutine. A timer whose generation is stale was
// cancelled or replaced after it started and does nothing.
func (c *Controller) fire(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.pending == nil {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	c.inFlight = true
	number, account := c.number, c.account
	attempt := c.retryCount
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.dialer.Dial(ctx, number, account); err != nil {
		c.logger.Error("scheduled redial failed", "number", number, "attempt", attempt, "error", err)
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}
}

// Cancel drops any pending redial. It is idempotent.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
}

func (c *Controller) cancelLocked() {
	c.generation++
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
}

// Redial dials the last number immediately, cancelling any pending
// automatic redial first.
func (c *Controller) Redial(ctx context.Context) error {
	c.mu.Lock()
	c.cancelLocked()
	number, account := c.number, c.account
	c.mu.Unlock()

	if number == "" {
		return ErrNothingToRedial
	}

	c.logger.Info("manual redial", "number", number)
	return c.dialer.Dial(ctx, number, account)
}

// Status returns a snapshot of the controller state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Active:     c.active,
		Number:     c.number,
		Account:    c.account,
		RetryCount: c.retryCount,
		Pending:    c.pending != nil,
		Scheduled:  c.scheduled,
	}
}
