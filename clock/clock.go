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

package clock

import (
	"time"
)

// Clock returns a "current" timestamp and creates timers relative to it. Production code uses the
// real clock; tests substitute testlib.MockClock so that reconnection waits and timestamps are
// deterministic.
type Clock interface {
	// Now returns the current time, as defined by this Clock.
	Now() time.Time

	// NewTimer creates a new Timer that fires after d has elapsed.
	NewTimer(d time.Duration) Timer
}

// Timer mimics a time.Timer, providing a channel that delivers a signal after a certain amount of
// time has elapsed.
type Timer interface {
	// GetC returns this Timer's signal channel. For real clocks, this simply returns a time.Timer.C.
	GetC() <-chan time.Time

	// Stop stops the timer. Like time.Timer.Stop(), it returns true if the call stops the timer,
	// false if the timer has already expired or been stopped.
	Stop() bool
}

// NewClock creates a new Clock instance that returns the current time.
func NewClock() Clock {
	return &realClock{}
}

// NewStoppedTimer returns a Timer that never fires.
func NewStoppedTimer() Timer {
	return stoppedTimer{}
}

type realClock struct{}

func (rc *realClock) Now() time.Time {
	return time.Now()
}

func (rc *realClock) NewTimer(d time.Duration) Timer {
	return &realTimer{t: time.NewTimer(d)}
}

type realTimer struct {
	t *time.Timer
}

func (t *realTimer) GetC() <-chan time.Time {
	return t.t.C
}

func (t *realTimer) Stop() bool {
	return t.t.Stop()
}

type stoppedTimer struct{}

func (stoppedTimer) GetC() <-chan time.Time {
	return nil
}

func (stoppedTimer) Stop() bool {
	return false
}
