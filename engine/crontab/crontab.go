package crontab

import (
	"time"

	"github.com/fractaldogs/dogworld/engine/gwlog"
	"github.com/fractaldogs/dogworld/engine/gwutils"
	"github.com/xiaonanln/goTimer"
)

const (
	_CRONTAB_TIME_OFFSET = time.Second * 2
)

// Handle is the type of return value of Register, can be used to cancel the register
type Handle int

type entry struct {
	minute, hour int
	cb           func()
}

func (entry *entry) match(minute int, hour int) bool {
	if entry.minute >= 0 {
		if entry.minute != minute {
			return false
		}
	} else if minute%-entry.minute != 0 { // minute < 0
		return false
	}

	if entry.hour >= 0 {
		if entry.hour != hour {
			return false
		}
	} else if hour%-entry.hour != 0 { // hour < 0
		return false
	}
	return true
}

// Table holds minute-resolution jobs; it must only be used from the routine that ticks goTimer
type Table struct {
	entries          map[Handle]*entry
	cancelledHandles []Handle
	nextHandle       Handle
	timer            *timer.Timer
}

// NewTable creates an empty crontab
func NewTable() *Table {
	return &Table{
		entries:    map[Handle]*entry{},
		nextHandle: 1,
	}
}

// Register a callback which will be executed when the time condition is satisfied
//
// minute: satisfied on the specified minute, or every -minute if minute is negative
// hour: satisfied on the specified hour, or every -hour when hour is negative
func (t *Table) Register(minute, hour int, cb func()) Handle {
	if minute > 59 || minute < -60 {
		gwlog.Panicf("invalid minute = %d", minute)
	}
	if hour > 23 || hour < -24 {
		gwlog.Panicf("invalid hour = %d", hour)
	}

	h := t.nextHandle
	t.nextHandle++
	t.entries[h] = &entry{
		minute: minute,
		hour:   hour,
		cb:     cb,
	}
	return h
}

// Unregister a registered crontab handle
func (t *Table) Unregister(h Handle) {
	t.cancelledHandles = append(t.cancelledHandles, h)
}

// Len returns the number of registered entries
func (t *Table) Len() int {
	return len(t.entries) - len(t.cancelledHandles)
}

func (t *Table) unregisterCancelledHandles() {
	for _, h := range t.cancelledHandles {
		delete(t.entries, h)
	}
	t.cancelledHandles = nil
}

// Start aligns the table to wall-clock minutes using goTimer
func (t *Table) Start() {
	now := time.Now()
	sec := now.Second()
	var d time.Duration
	if time.Second*time.Duration(sec) < _CRONTAB_TIME_OFFSET {
		d = _CRONTAB_TIME_OFFSET - time.Second*time.Duration(sec)
	} else {
		d = time.Second*time.Duration(60-sec) + _CRONTAB_TIME_OFFSET
	}

	d -= time.Nanosecond * time.Duration(now.Nanosecond())
	gwlog.Debugf("crontab: current time is %s, will setup repeat time after %s", now, d)
	t.timer = timer.AddCallback(d, func() {
		t.timer = timer.AddTimer(time.Minute, func() {
			t.Check(time.Now())
		})
		t.Check(time.Now())
	})
}

// Stop cancels the minute timer
func (t *Table) Stop() {
	if t.timer != nil {
		t.timer.Cancel()
		t.timer = nil
	}
}

// Check runs every entry matching now
func (t *Table) Check(now time.Time) {
	t.unregisterCancelledHandles()

	hour, minute := now.Hour(), now.Minute()
	for _, entry := range t.entries {
		if entry.match(minute, hour) {
			gwutils.RunPanicless(entry.cb)
		}
	}

	t.unregisterCancelledHandles()
}
