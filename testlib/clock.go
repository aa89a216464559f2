// Copyright 2018 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package testlib

import (
	"sync"
	"testing"
	"time"

	"github.com/GoogleCloudPlatform/esagent/clock"
)

// MockClock is a clock.Clock whose time only changes when SetNow is called. Timers fire once the
// clock's time is set to or after their fire time.
//
// Components that wait on a timer from another goroutine (the engine's reconnection wait, for
// instance) should be driven from the test thread with WaitForTimer: wait until the component has
// created its timer, then advance the clock to the timer's fire time.
type MockClock interface {
	clock.Clock
	SetNow(time.Time)

	// GetNextFireTime returns the time that the next Timer will fire, or the zero value if no timers
	// are set.
	GetNextFireTime() time.Time
}

// NewMockClock creates a new MockClock instance that initially returns time zero.
func NewMockClock() MockClock {
	return &mockClock{
		timers: make(map[*mockTimer]bool),
	}
}

type mockClock struct {
	mutex  sync.Mutex
	now    time.Time
	timers map[*mockTimer]bool
}

func (mc *mockClock) Now() time.Time {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	return mc.now
}

func (mc *mockClock) SetNow(now time.Time) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	mc.now = now
	for mt := range mc.timers {
		// maybeFire may remove mt from the set.
		mt.maybeFire(now)
	}
}

func (mc *mockClock) GetNextFireTime() time.Time {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	var earliest time.Time
	for mt := range mc.timers {
		if !mt.done && (earliest.IsZero() || mt.fireAt.Before(earliest)) {
			earliest = mt.fireAt
		}
	}
	return earliest
}

func (mc *mockClock) NewTimer(d time.Duration) clock.Timer {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	return mc.newTimer(mc.now.Add(d))
}

// Assumes mc.mutex is held.
func (mc *mockClock) newTimer(at time.Time) clock.Timer {
	mt := &mockTimer{
		c:      make(chan time.Time, 1),
		owner:  mc,
		fireAt: at,
	}
	mc.timers[mt] = true

	// Handles timers created at or before the current time.
	mt.maybeFire(mc.now)
	return mt
}

type mockTimer struct {
	c      chan time.Time
	owner  *mockClock
	fireAt time.Time
	done   bool
}

func (mt *mockTimer) GetC() <-chan time.Time {
	return mt.c
}

func (mt *mockTimer) Stop() bool {
	mt.owner.mutex.Lock()
	defer mt.owner.mutex.Unlock()
	if mt.done {
		return false
	}
	mt.done = true
	delete(mt.owner.timers, mt)
	return true
}

// maybeFire fires the timer if its time has come and it hasn't fired or been stopped. Assumes that
// mt.owner.mutex is held.
func (mt *mockTimer) maybeFire(t time.Time) {
	if mt.done || mt.fireAt.After(t) {
		return
	}
	mt.c <- t
	mt.done = true
	delete(mt.owner.timers, mt)
}

// WaitForTimer waits for up to ~5 seconds for a timer to be set on mc that fires at exactly at.
func WaitForTimer(t *testing.T, mc MockClock, at time.Time) {
	for i := 0; i < 5000; i++ {
		if mc.GetNextFireTime().Equal(at) {
			return
		}
		time.Sleep(1 * time.Millisecond)
	}
	t.Fatalf("WaitForTimer: no timer set for %v (next fire time: %v)", at, mc.GetNextFireTime())
}
