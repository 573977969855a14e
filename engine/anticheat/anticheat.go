package anticheat

import (
	"fmt"
	"sync"
	"time"

	"github.com/fractaldogs/dogworld/engine/consts"
	"github.com/fractaldogs/dogworld/engine/gwlog"
)

// ActionClass is the kind of mutation being admitted
type ActionClass int

const (
	// ActionMint mints a starter dog
	ActionMint ActionClass = iota
	// ActionMerge merges two dogs
	ActionMerge
	// ActionPrestige resets a dog for prestige
	ActionPrestige
)

func (c ActionClass) String() string {
	switch c {
	case ActionMint:
		return "mint"
	case ActionMerge:
		return "merge"
	case ActionPrestige:
		return "prestige"
	}
	return fmt.Sprintf("ActionClass(%d)", int(c))
}

// DenyReason is the machine readable reason of a denial
type DenyReason string

const (
	// ReasonRateLimited means the class rate within the window is exhausted
	ReasonRateLimited DenyReason = "rate_limited"
	// ReasonCooldown means the prestige cooldown has not passed
	ReasonCooldown DenyReason = "prestige_cooldown"
	// ReasonSuspicious means the suspicion score reached the threshold
	ReasonSuspicious DenyReason = "suspicious_activity"
)

// Decision is the result of ValidateAction
type Decision struct {
	Allowed bool
	Reason  DenyReason
	Detail  string
}

var allowed = Decision{Allowed: true}

func deny(reason DenyReason, format string, args ...interface{}) Decision {
	return Decision{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Config holds the admission thresholds
type Config struct {
	MaxMergesPerHour   int
	MaxMintsPerHour    int
	PrestigeCooldown   time.Duration
	SuspicionThreshold float64
}

const rateWindow = time.Hour

type actionRecord struct {
	at    time.Time
	class ActionClass
}

type session struct {
	sync.Mutex
	actions    ring[actionRecord]
	merges     ring[time.Time]
	intervals  ring[time.Duration]
	lastAction time.Time
}

func newSession() *session {
	return &session{
		actions:   newRing[actionRecord](consts.ACTION_HISTORY_CAP),
		merges:    newRing[time.Time](consts.MERGE_HISTORY_CAP),
		intervals: newRing[time.Duration](consts.INTERVAL_HISTORY_CAP),
	}
}

// Engine admits or denies mutations per identity
//
// Each identity's session is guarded by its own lock; different identities never contend.
type Engine struct {
	cfg    Config
	scorer Scorer
	now    func() time.Time

	sessionsLock sync.RWMutex
	sessions     map[string]*session
}

// NewEngine creates an Engine; a nil scorer uses DefaultScorer
func NewEngine(cfg Config, scorer Scorer) *Engine {
	if scorer == nil {
		scorer = DefaultScorer()
	}
	return &Engine{
		cfg:      cfg,
		scorer:   scorer,
		now:      time.Now,
		sessions: map[string]*session{},
	}
}

// SetClock replaces the time source
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

func (e *Engine) getSession(identity string, create bool) *session {
	e.sessionsLock.RLock()
	s := e.sessions[identity]
	e.sessionsLock.RUnlock()
	if s != nil || !create {
		return s
	}

	e.sessionsLock.Lock()
	s = e.sessions[identity]
	if s == nil {
		s = newSession()
		e.sessions[identity] = s
	}
	e.sessionsLock.Unlock()
	return s
}

// ValidateAction decides whether identity may perform class now, recording the action if allowed
func (e *Engine) ValidateAction(identity string, class ActionClass) Decision {
	s := e.getSession(identity, true)
	s.Lock()
	defer s.Unlock()

	now := e.now()
	if d := e.checkRate(s, class, now); !d.Allowed {
		return d
	}
	if score := e.scorer.Score(s.intervals.values()); score >= e.cfg.SuspicionThreshold {
		gwlog.Infof("anticheat: %s denied %s, suspicion score %.2f", identity, class, score)
		return deny(ReasonSuspicious, "suspicion score %.2f", score)
	}

	e.record(s, class, now)
	return allowed
}

func countSince[T any](r *ring[T], since time.Time, at func(T) time.Time, match func(T) bool) int {
	n := 0
	r.reverse(func(v T) bool {
		if !at(v).After(since) {
			return false
		}
		if match(v) {
			n++
		}
		return true
	})
	return n
}

func (e *Engine) checkRate(s *session, class ActionClass, now time.Time) Decision {
	switch class {
	case ActionMerge:
		n := countSince(&s.merges, now.Add(-rateWindow), func(t time.Time) time.Time { return t }, func(time.Time) bool { return true })
		if n >= e.cfg.MaxMergesPerHour {
			return deny(ReasonRateLimited, "%d merges in the last hour, limit %d", n, e.cfg.MaxMergesPerHour)
		}
	case ActionMint:
		n := countSince(&s.actions, now.Add(-rateWindow), recordTime, isClass(ActionMint))
		if n >= e.cfg.MaxMintsPerHour {
			return deny(ReasonRateLimited, "%d mints in the last hour, limit %d", n, e.cfg.MaxMintsPerHour)
		}
	case ActionPrestige:
		if e.cfg.PrestigeCooldown > 0 {
			n := countSince(&s.actions, now.Add(-e.cfg.PrestigeCooldown), recordTime, isClass(ActionPrestige))
			if n > 0 {
				return deny(ReasonCooldown, "prestige cooldown %s", e.cfg.PrestigeCooldown)
			}
		}
	default:
		gwlog.Panicf("anticheat: unknown action class %s", class)
	}
	return allowed
}

func recordTime(r actionRecord) time.Time {
	return r.at
}

func isClass(class ActionClass) func(actionRecord) bool {
	return func(r actionRecord) bool {
		return r.class == class
	}
}

func (e *Engine) record(s *session, class ActionClass, now time.Time) {
	if !s.lastAction.IsZero() {
		iv := now.Sub(s.lastAction)
		if iv < 0 {
			iv = 0
		}
		s.intervals.push(iv)
	}
	s.lastAction = now
	s.actions.push(actionRecord{at: now, class: class})
	if class == ActionMerge {
		s.merges.push(now)
	}
}

// SuspicionScore returns the current score of identity, 0 for unknown identities
func (e *Engine) SuspicionScore(identity string) float64 {
	s := e.getSession(identity, false)
	if s == nil {
		return 0
	}
	s.Lock()
	defer s.Unlock()
	return e.scorer.Score(s.intervals.values())
}

// Reset drops the history of identity
func (e *Engine) Reset(identity string) {
	e.sessionsLock.Lock()
	delete(e.sessions, identity)
	e.sessionsLock.Unlock()
	gwlog.Infof("anticheat: session of %s reset", identity)
}

// SessionCount returns the number of identities with history
func (e *Engine) SessionCount() int {
	e.sessionsLock.RLock()
	defer e.sessionsLock.RUnlock()
	return len(e.sessions)
}
