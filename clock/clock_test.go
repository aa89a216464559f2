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

package clock_test

import (
	"testing"
	"time"

	"github.com/GoogleCloudPlatform/esagent/clock"
)

func TestRealTimer(t *testing.T) {
	c := clock.NewClock()
	start := c.Now()
	tmr := c.NewTimer(10 * time.Millisecond)
	select {
	case firedAt := <-tmr.GetC():
		if firedAt.Before(start) {
			t.Fatalf("Fired-at time %v before start %v", firedAt, start)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timer should have fired")
	}
	if tmr.Stop() {
		t.Fatal("Fired timer.Stop() should return false")
	}
}

func TestRealTimerZero(t *testing.T) {
	c := clock.NewClock()
	tmr := c.NewTimer(0)
	select {
	case <-tmr.GetC():
	case <-time.After(5 * time.Second):
		t.Fatal("Zero-duration timer should fire immediately")
	}
}

func TestStoppedTimer(t *testing.T) {
	tmr := clock.NewStoppedTimer()
	select {
	case <-tmr.GetC():
		t.Fatal("Stopped timer should never fire")
	case <-time.After(10 * time.Millisecond):
	}
	if tmr.Stop() {
		t.Fatal("Stopped timer.Stop() should return false")
	}
}
