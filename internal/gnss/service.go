package gnss

import (
	"context"
	"log"
	"sync"
	"time"
)

// Step cadences. At 9600 baud the receiver writes roughly one byte per
// millisecond, so a 200 ms drain cadence stays comfortably ahead of the
// OS buffer while awake. Asleep, the machine only needs to notice
// schedule edges.
const (
	activePollEvery = 200 * time.Millisecond
	idlePollEvery   = 5 * time.Second
)

// PowerPin hard-switches the receiver supply rail, where the board wires
// one.
type PowerPin interface {
	Set(on bool) error
}

// Config controls the driver. Zero values take the default noted on each
// field.
type Config struct {
	// UpdateInterval is how often a fresh position is wanted; it is the
	// base the sleep budget is carved from. Default 2m.
	UpdateInterval time.Duration

	// WakeMin and WakeMax bound a single search window. The window
	// shrinks toward WakeMin once a lock is held and grows toward WakeMax
	// while searching fruitlessly. Defaults 30s and 15m.
	WakeMin time.Duration
	WakeMax time.Duration

	// PowerSave duty-cycles the receiver between windows. Off means
	// always-on: windows end, but the receiver never sleeps.
	PowerSave bool

	// FixedPosition marks a parked installation: the receiver stays up
	// until it has delivered a fix plus GraceCycles of refinement, then
	// is shut down for good.
	FixedPosition bool

	// GraceCycles is the number of extra active steps after the fix in
	// fixed-position mode. Default 20.
	GraceCycles int

	// MaxFrameErrors aborts an acknowledgement wait early once this many
	// malformed frames arrive. Default 10.
	MaxFrameErrors int

	// RedetectInterval is the retry cadence after probing exhausts the
	// baud ladder without an answer. Default 5m.
	RedetectInterval time.Duration
}

func (c *Config) setDefaults() {
	if c.UpdateInterval <= 0 {
		c.UpdateInterval = 2 * time.Minute
	}
	if c.WakeMin <= 0 {
		c.WakeMin = 30 * time.Second
	}
	if c.WakeMax <= 0 {
		c.WakeMax = 15 * time.Minute
	}
	if c.WakeMax < c.WakeMin {
		c.WakeMax = c.WakeMin
	}
	if c.GraceCycles <= 0 {
		c.GraceCycles = 20
	}
	if c.MaxFrameErrors <= 0 {
		c.MaxFrameErrors = defaultMaxFrameErrors
	}
	if c.RedetectInterval <= 0 {
		c.RedetectInterval = 5 * time.Minute
	}
}

// Policy is the runtime-adjustable slice of Config.
type Policy struct {
	UpdateInterval time.Duration `json:"update_interval"`
	WakeMin        time.Duration `json:"wake_min"`
	WakeMax        time.Duration `json:"wake_max"`
	PowerSave      bool          `json:"power_save"`
	FixedPosition  bool          `json:"fixed_position"`
}

// Service owns one receiver session for the life of the process. All of
// its work happens in bounded steps: each step drains input, advances the
// state machine, and reports how long the loop may sleep before the next
// one.
type Service struct {
	cfg Config

	mu        sync.Mutex
	state     State
	port      Port
	ex        *exchange
	dial      Dialect
	prb       *prober
	nm        nmeaState
	model     Model
	baudIndex int
	connected bool // sticky: set on the first valid response, never cleared

	awake       bool
	wakeAllowed bool
	forced      bool // pending wake request, observed at the next step

	hasLock     bool
	fix         Fix
	fixAt       time.Time
	timeUTC     time.Time
	wakeStart   time.Time
	sleepStart  time.Time
	lastTraffic time.Time
	sleepBudget time.Duration

	lastFixDur  time.Duration
	fruitless   int
	graceCtr    int
	probeFailAt time.Time

	shouldPublish bool

	bc  *Broadcaster
	pin PowerPin

	kick      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	started   bool
}

// New builds a driver over an open port. bc may be nil when nobody
// listens; pin may be nil when the receiver has no supply switch.
func New(cfg Config, port Port, bc *Broadcaster, pin PowerPin) *Service {
	cfg.setDefaults()
	return &Service{
		cfg:         cfg,
		state:       StateUninitialized,
		port:        port,
		ex:          newExchange(port, cfg.MaxFrameErrors),
		wakeAllowed: true,
		bc:          bc,
		pin:         pin,
		kick:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// Start runs the step loop until ctx is canceled or Close is called.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
}

func (s *Service) loop(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-s.kick:
		case <-timer.C:
		}
		d := s.runOnce(timeNow())
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(d)
	}
}

// Close stops the loop and releases the port.
func (s *Service) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	s.wg.Wait()
	return s.port.Close()
}

// runOnce advances the machine one bounded step and returns how long the
// loop may wait before the next. The mutex also serializes steps against
// the host-event entry points below.
func (s *Service) runOnce(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Freshness is recomputed, never trusted stale: a held lock is voided
	// once it outlives the acquisition interval plus the largest window.
	// Fixed-position installations are exempt; their one fix is the point.
	if s.hasLock && !s.cfg.FixedPosition && now.Sub(s.fixAt) > s.cfg.UpdateInterval+s.cfg.WakeMax {
		log.Printf("gnss: position stale, dropping lock")
		s.hasLock = false
		s.shouldPublish = true
	}

	// Host requests are flag writes, observed here at the top of a step.
	if s.forced {
		s.forced = false
		s.honorForceLocked(now)
	}
	if !s.wakeAllowed && s.awake {
		log.Printf("gnss: wake vetoed by host, sleeping")
		s.setAwakeLocked(now, false)
		s.state = StateSleeping
		s.sleepBudget = s.cfg.UpdateInterval
		s.shouldPublish = true
	}

	var next time.Duration
	switch s.state {
	case StateUninitialized:
		next = s.stepInitLocked()
	case StateProbing:
		next = s.stepProbeLocked(now)
	case StateDisconnected:
		next = s.stepDisconnectedLocked(now)
	case StateConfiguring:
		next = s.stepConfigureLocked(now)
	case StateActiveSearching, StateForcedAwake:
		next = s.stepSearchLocked(now)
	case StateSleeping:
		next = s.stepSleepLocked(now)
	default: // StateSuspended parks the machine
		next = idlePollEvery
	}

	s.publishLocked(now)
	return next
}

func (s *Service) honorForceLocked(now time.Time) {
	s.wakeAllowed = true
	switch s.state {
	case StateSleeping, StateActiveSearching:
		s.graceCtr = 0
		s.setAwakeLocked(now, true)
		s.state = StateForcedAwake
		s.shouldPublish = true
	case StateDisconnected:
		// Retry the ladder right away instead of waiting out the cadence.
		s.state = StateProbing
		s.prb = newProber(s.ex)
		s.shouldPublish = true
	case StateSuspended:
		if !s.connected {
			s.state = StateProbing
			s.prb = newProber(s.ex)
		} else {
			s.graceCtr = 0
			s.setAwakeLocked(now, true)
			s.state = StateForcedAwake
		}
		s.shouldPublish = true
	}
}

func (s *Service) stepInitLocked() time.Duration {
	if s.pin != nil {
		if err := s.pin.Set(true); err != nil {
			log.Printf("gnss: power pin on: %v", err)
		}
	}
	s.state = StateProbing
	s.prb = newProber(s.ex)
	return 0
}

func (s *Service) stepProbeLocked(now time.Time) time.Duration {
	model, idx, done := s.prb.step()
	if model != ModelUnknown {
		s.model = model
		s.baudIndex = idx
		s.connected = true
		s.dial = dialectFor(model, dialectOptions{powerSave: s.cfg.PowerSave})
		s.state = StateConfiguring
		s.shouldPublish = true
		return 0
	}
	if done {
		log.Printf("gnss: no receiver answered, next attempt in %s", s.cfg.RedetectInterval)
		s.state = StateDisconnected
		s.probeFailAt = now
		s.shouldPublish = true
		return s.cfg.RedetectInterval
	}
	return 0
}

func (s *Service) stepDisconnectedLocked(now time.Time) time.Duration {
	if rem := s.cfg.RedetectInterval - now.Sub(s.probeFailAt); rem > 0 {
		if rem < idlePollEvery {
			return rem
		}
		return idlePollEvery
	}
	s.state = StateProbing
	s.prb = newProber(s.ex)
	return 0
}

func (s *Service) stepConfigureLocked(now time.Time) time.Duration {
	if err := s.dial.Configure(s.ex); err != nil {
		log.Printf("gnss: configure: %v", err)
	}
	// Configure blocks on receiver exchanges, so the first search window
	// opens at the current time, not at step entry.
	s.setAwakeLocked(timeNow(), true)
	s.state = StateActiveSearching
	s.shouldPublish = true
	return activePollEvery
}

func (s *Service) stepSearchLocked(now time.Time) time.Duration {
	// Budgets are read before parsing so the window is judged by what it
	// was opened for: a fix landing late in an acquisition window must not
	// be measured against the short re-poll bound.
	elapsed := now.Sub(s.wakeStart)
	budget := s.wakeBudgetLocked()
	if s.state == StateForcedAwake {
		budget = s.cfg.WakeMax
	}

	if s.drainLocked() {
		s.lastTraffic = now
	}

	if t, ok := s.nm.takeTime(); ok {
		if s.timeUTC.IsZero() {
			log.Printf("gnss: receiver time %s", t.Format(time.RFC3339))
			s.shouldPublish = true
		}
		s.timeUTC = t
	}
	gotTime := !s.timeUTC.IsZero()

	gotFix := false
	if fix, ok := s.nm.takeFix(); ok {
		gotFix = true
		s.fix = fix
		s.fixAt = now
		if !s.hasLock {
			log.Printf("gnss: lock acquired (%d sats)", fix.Satellites)
			s.hasLock = true
			s.lastFixDur = now.Sub(s.wakeStart)
			s.fruitless = 0
			s.shouldPublish = true
		}
	}

	// Fixed-position installations stay up for a few extra steps after
	// the fix so late satellites can refine it, then shut down for good.
	if s.cfg.FixedPosition && s.hasLock {
		if s.graceCtr < s.cfg.GraceCycles {
			s.graceCtr++
			return activePollEvery
		}
		log.Printf("gnss: fixed position settled, receiver off")
		s.wakeAllowed = false
		s.setAwakeLocked(now, false)
		s.state = StateSleeping
		s.shouldPublish = true
		return idlePollEvery
	}

	tooLong := elapsed > budget

	if (gotFix && gotTime) || tooLong {
		if gotFix && gotTime {
			// A fix in hand closes the window as a success even when it
			// arrived in the same step the budget ran out.
			s.lastFixDur = elapsed
			s.fruitless = 0
		} else {
			if s.hasLock {
				log.Printf("gnss: window expired, dropping lock")
			} else {
				s.fruitless++
			}
			s.hasLock = false
		}
		s.shouldPublish = true
		return s.endWindowLocked(now)
	}

	return activePollEvery
}

// endWindowLocked closes a search window and decides what follows it: a
// sleep sized to the rest of the update interval, or an immediate fresh
// window when policy forbids sleeping or when acquisition overran the
// whole interval.
func (s *Service) endWindowLocked(now time.Time) time.Duration {
	sleepable := s.cfg.PowerSave && !s.cfg.FixedPosition
	budget := s.cfg.UpdateInterval - now.Sub(s.wakeStart)
	if !sleepable || budget <= 0 {
		s.setAwakeLocked(now, true)
		s.state = StateActiveSearching
		return activePollEvery
	}
	s.sleepBudget = budget
	s.setAwakeLocked(now, false)
	s.state = StateSleeping
	if budget < idlePollEvery {
		return budget
	}
	return idlePollEvery
}

func (s *Service) stepSleepLocked(now time.Time) time.Duration {
	if !s.wakeAllowed {
		return idlePollEvery // held down by host veto or a parked fix
	}
	slept := now.Sub(s.sleepStart)
	if slept < s.sleepBudget {
		if rem := s.sleepBudget - slept; rem < idlePollEvery {
			return rem
		}
		return idlePollEvery
	}
	s.setAwakeLocked(now, true)
	s.state = StateActiveSearching
	s.shouldPublish = true
	return activePollEvery
}

// wakeBudgetLocked is the window for the current search: a short re-poll
// while a lock is held, otherwise twice the last acquisition time doubled
// per fruitless window, clamped to the configured bounds. A receiver with
// no history gets the full maximum.
func (s *Service) wakeBudgetLocked() time.Duration {
	if s.hasLock {
		return s.cfg.WakeMin
	}
	base := 2 * s.lastFixDur
	if base <= 0 {
		return s.cfg.WakeMax
	}
	for i := 0; i < s.fruitless; i++ {
		base *= 2
		if base >= s.cfg.WakeMax {
			break
		}
	}
	if base < s.cfg.WakeMin {
		base = s.cfg.WakeMin
	}
	if base > s.cfg.WakeMax {
		base = s.cfg.WakeMax
	}
	return base
}

// setAwakeLocked is the single place receiver power and window timestamps
// change, keeping the two in lockstep.
func (s *Service) setAwakeLocked(now time.Time, on bool) {
	if on {
		s.wakeStart = now
		s.nm.resetWindow()
		if s.pin != nil {
			if err := s.pin.Set(true); err != nil {
				log.Printf("gnss: power pin on: %v", err)
			}
		}
		if !s.awake {
			_ = s.port.FlushInput() // drop whatever piled up while asleep
			if s.dial != nil {
				if err := s.dial.Wake(s.ex); err != nil {
					log.Printf("gnss: wake: %v", err)
				}
			}
		}
	} else {
		s.sleepStart = now
		if s.awake && s.dial != nil {
			if err := s.dial.Sleep(s.ex); err != nil {
				log.Printf("gnss: sleep: %v", err)
			}
		}
		if s.pin != nil {
			if err := s.pin.Set(false); err != nil {
				log.Printf("gnss: power pin off: %v", err)
			}
		}
	}
	s.awake = on
}

// drainLocked moves pending receiver bytes through the sentence reader.
// Bounded to a few reads per step so a chatty receiver cannot starve the
// scheduler.
func (s *Service) drainLocked() bool {
	alive := false
	var buf [512]byte
	for i := 0; i < 4; i++ {
		n, err := s.port.Read(buf[:])
		if n > 0 && s.nm.feed(buf[:n]) {
			alive = true
		}
		if err != nil || n < len(buf) {
			break
		}
	}
	return alive
}

// publishLocked notifies subscribers at most once per completed step,
// then clears the dirty flag so the same change never publishes twice.
func (s *Service) publishLocked(now time.Time) {
	if !s.shouldPublish {
		return
	}
	s.shouldPublish = false
	s.bc.Publish(s.statusLocked(now))
}

func (s *Service) statusLocked(now time.Time) Status {
	st := Status{
		State:       s.state.String(),
		Connected:   s.connected,
		HasLock:     s.hasLock,
		PowerSaving: s.state == StateSleeping || s.state == StateSuspended,
		Model:       s.model.String(),
		Satellites:  s.nm.satellites,
		UpdatedUTC:  now.UTC().Format(time.RFC3339Nano),
	}
	if s.connected {
		st.Baud = probeBauds[s.baudIndex]
	}
	if s.hasLock {
		f := s.fix
		st.Fix = &f
	}
	if !s.timeUTC.IsZero() {
		st.TimeUTC = s.timeUTC.Format(time.RFC3339)
	}
	if !s.lastTraffic.IsZero() {
		st.LastTraffic = s.lastTraffic.UTC().Format(time.RFC3339)
	}
	return st
}

// Status returns the current snapshot without waiting for a publish.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked(timeNow())
}

// ForceWake asks for a position now. Scheduling is overridden at the top
// of the next step, so the worst-case latency to honor it is one bounded
// step interval.
func (s *Service) ForceWake() {
	s.mu.Lock()
	s.forced = true
	s.mu.Unlock()
	s.kickLoop()
}

// Standby vetoes acquisition until the next ForceWake: the machine is
// held in its sleep state regardless of budget.
func (s *Service) Standby() {
	s.mu.Lock()
	s.wakeAllowed = false
	s.mu.Unlock()
	s.kickLoop()
}

// PrepareSleep readies the receiver for a host light sleep: scheduling is
// parked in the suspended state and the receiver is put into its low
// power mode. The supply rail stays up so resume is quick. It never
// refuses.
func (s *Service) PrepareSleep() {
	s.prepareSuspend(false)
}

// PrepareDeepSleep is PrepareSleep plus cutting the supply rail where a
// power pin is wired, for hosts that power off entirely.
func (s *Service) PrepareDeepSleep() {
	s.prepareSuspend(true)
}

func (s *Service) prepareSuspend(deep bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := timeNow()
	s.wakeAllowed = false
	if s.awake {
		s.sleepStart = now
		if s.dial != nil {
			if err := s.dial.Sleep(s.ex); err != nil {
				log.Printf("gnss: sleep: %v", err)
			}
		}
		s.awake = false
	}
	if deep && s.pin != nil {
		if err := s.pin.Set(false); err != nil {
			log.Printf("gnss: power pin off: %v", err)
		}
	}
	if s.state != StateSuspended {
		log.Printf("gnss: suspended for host sleep")
		s.state = StateSuspended
		s.shouldPublish = true
		s.publishLocked(now)
	}
}

// Resume restores scheduling after a host sleep. A session that never
// found its receiver probes again; an established one goes straight into
// a search window.
func (s *Service) Resume() {
	s.mu.Lock()
	s.wakeAllowed = true
	s.forced = true
	s.mu.Unlock()
	s.kickLoop()
}

// SetPolicy applies runtime-adjustable host policy. Budgets take effect
// from the next window.
func (s *Service) SetPolicy(p Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.UpdateInterval > 0 {
		s.cfg.UpdateInterval = p.UpdateInterval
	}
	if p.WakeMin > 0 {
		s.cfg.WakeMin = p.WakeMin
	}
	if p.WakeMax > 0 {
		s.cfg.WakeMax = p.WakeMax
	}
	if s.cfg.WakeMax < s.cfg.WakeMin {
		s.cfg.WakeMax = s.cfg.WakeMin
	}
	if p.FixedPosition && !s.cfg.FixedPosition {
		s.graceCtr = 0
	}
	s.cfg.PowerSave = p.PowerSave
	s.cfg.FixedPosition = p.FixedPosition
}

// PolicySnapshot reports the currently effective policy.
func (s *Service) PolicySnapshot() Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Policy{
		UpdateInterval: s.cfg.UpdateInterval,
		WakeMin:        s.cfg.WakeMin,
		WakeMax:        s.cfg.WakeMax,
		PowerSave:      s.cfg.PowerSave,
		FixedPosition:  s.cfg.FixedPosition,
	}
}

func (s *Service) kickLoop() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}
