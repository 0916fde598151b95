package tempmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/shineum/mailhook/internal/mail"
)

// DefaultPollInterval is the gap between two poll cycles.
const DefaultPollInterval = 15 * time.Second

var (
	// ErrNoAddress is returned when the session holds no address.
	ErrNoAddress = errors.New("no active address")
	// ErrAddressExpired is returned once the held address has outlived its TTL.
	ErrAddressExpired = errors.New("address expired")
	// ErrAlreadyWatching is returned by a second concurrent Watch.
	ErrAlreadyWatching = errors.New("session is already being watched")
	// ErrSuperseded is returned by a cycle whose address was replaced or
	// cleared while it ran. Its result is discarded.
	ErrSuperseded = errors.New("address changed during poll")
	// ErrMessageNotFound is returned when a reference matches no held message.
	ErrMessageNotFound = errors.New("message not found")
)

// SessionOptions configures a Session.
type SessionOptions struct {
	// Interval between poll cycles. Zero means DefaultPollInterval.
	Interval time.Duration
	// Jitter spreads cycles by up to this ratio of Interval, clamped to [0, 1].
	Jitter float64
	// Notifier is told about growth. Optional.
	Notifier Notifier
	// Store persists the session after every change. Optional.
	Store Store
}

// Session holds the current address and its messages, and runs the poll
// loop against them.
type Session struct {
	poller   *Poller
	notifier Notifier
	store    Store
	interval time.Duration
	jitter   float64
	now      func() time.Time

	// cycleMu serializes poll cycles.
	cycleMu sync.Mutex

	mu          sync.Mutex
	addr        *mail.Address
	messages    []mail.Message
	gen         uint64
	cycleCancel context.CancelFunc
	watching    bool
	kick        chan struct{}
}

// NewSession creates an empty Session.
func NewSession(poller *Poller, opts SessionOptions) *Session {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Session{
		poller:   poller,
		notifier: opts.Notifier,
		store:    opts.Store,
		interval: interval,
		jitter:   clampJitterRatio(opts.Jitter),
		now:      time.Now,
		kick:     make(chan struct{}, 1),
	}
}

// Restore loads the persisted state, if any. It reports whether an address
// was restored.
func (s *Session) Restore() (bool, error) {
	if s.store == nil {
		return false, nil
	}
	st, err := s.store.Load()
	if err != nil {
		return false, err
	}
	if st.Address == nil {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	addr := *st.Address
	s.addr = &addr
	s.messages = st.Messages
	return true, nil
}

// Address returns the held address.
func (s *Session) Address() (mail.Address, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr == nil {
		return mail.Address{}, false
	}
	return *s.addr, true
}

// Messages returns a copy of the held messages.
func (s *Session) Messages() []mail.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mail.Message(nil), s.messages...)
}

// Replace switches to addr with an empty message list. An in-flight cycle
// for the previous address is cancelled and its result dropped.
func (s *Session) Replace(addr mail.Address) {
	s.mu.Lock()
	s.switchLocked(&addr)
	st := s.stateLocked()
	s.mu.Unlock()

	s.persist(st)
	s.wake()
}

// Clear forgets the address and its messages.
func (s *Session) Clear() error {
	s.mu.Lock()
	s.switchLocked(nil)
	s.mu.Unlock()

	s.wake()
	if s.store == nil {
		return nil
	}
	return s.store.Clear()
}

func (s *Session) switchLocked(addr *mail.Address) {
	s.gen++
	if s.cycleCancel != nil {
		s.cycleCancel()
		s.cycleCancel = nil
	}
	s.addr = addr
	s.messages = nil
}

// PollOnce runs one cycle for the held address. The notifier fires once
// when the message count grew.
func (s *Session) PollOnce(ctx context.Context) (PollResult, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	s.mu.Lock()
	if s.addr == nil {
		s.mu.Unlock()
		return PollResult{}, ErrNoAddress
	}
	if s.addr.Expired(s.now()) {
		s.mu.Unlock()
		return PollResult{}, ErrAddressExpired
	}
	addr := *s.addr
	known := append([]mail.Message(nil), s.messages...)
	gen := s.gen
	cycleCtx, cancel := context.WithCancel(ctx)
	s.cycleCancel = cancel
	s.mu.Unlock()
	defer cancel()

	res := s.poller.Poll(cycleCtx, addr, known)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return PollResult{}, ErrSuperseded
	}
	s.cycleCancel = nil
	s.messages = res.Messages
	st := s.stateLocked()
	s.mu.Unlock()

	if !res.Failed {
		s.persist(st)
	}
	if res.NewCount > 0 && s.notifier != nil {
		s.notifier.NewMessages(addr, res.NewCount)
	}
	return res, nil
}

// Watch polls the held address immediately and then on every interval
// until ctx is done or the address expires. Replace restarts the schedule
// for the new address; Clear pauses it until the next Replace.
func (s *Session) Watch(ctx context.Context) error {
	s.mu.Lock()
	if s.watching {
		s.mu.Unlock()
		return ErrAlreadyWatching
	}
	s.watching = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.watching = false
		s.mu.Unlock()
	}()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	next := func() time.Duration {
		return jitteredInterval(s.interval, s.jitter, rng.Float64())
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	idle := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.kick:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}

		_, err := s.PollOnce(ctx)
		switch {
		case errors.Is(err, ErrAddressExpired):
			return err
		case errors.Is(err, ErrNoAddress):
			if !idle {
				slog.Debug("no address to watch, waiting")
			}
			idle = true
			continue
		case errors.Is(err, ErrSuperseded):
			slog.Debug("discarded poll result for replaced address")
		case err != nil:
			return err
		}
		idle = false
		timer.Reset(next())
	}
}

// Lookup finds a held message by 1-based position or by id.
func (s *Session) Lookup(ref string) (mail.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(s.messages) {
			return mail.Message{}, fmt.Errorf("%w: no message #%d", ErrMessageNotFound, n)
		}
		return s.messages[n-1], nil
	}
	for _, m := range s.messages {
		if m.ID == ref {
			return m, nil
		}
	}
	return mail.Message{}, fmt.Errorf("%w: %q", ErrMessageNotFound, ref)
}

// Read fetches the full content of the message ref names.
func (s *Session) Read(ctx context.Context, ref string) (*mail.Message, error) {
	addr, ok := s.Address()
	if !ok {
		return nil, ErrNoAddress
	}
	msg, err := s.Lookup(ref)
	if err != nil {
		return nil, err
	}
	return s.poller.Detail(ctx, addr, msg)
}

func (s *Session) stateLocked() State {
	st := State{Messages: append([]mail.Message(nil), s.messages...)}
	if s.addr != nil {
		addr := *s.addr
		st.Address = &addr
	}
	return st
}

func (s *Session) persist(st State) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(st); err != nil {
		slog.Warn("failed to save session", "error", err)
	}
}

func (s *Session) wake() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func clampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

// jitteredInterval scales base by a factor in [1-ratio, 1+ratio] picked by
// sample, which is expected in [0, 1].
func jitteredInterval(base time.Duration, ratio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	ratio = clampJitterRatio(ratio)
	if ratio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*ratio
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
