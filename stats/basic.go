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

package stats

import (
	"sync"

	"github.com/golang/glog"
)

// Basic is a Recorder and Provider that keeps the latest Snapshot in memory. All stats are reset
// when the agent is restarted.
type Basic struct {
	mutex   sync.RWMutex
	current Snapshot
}

// NewBasic creates an empty Basic.
func NewBasic() *Basic {
	return &Basic{}
}

func (s *Basic) Record(snap Snapshot) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if snap.Connected != s.current.Connected {
		glog.V(1).Infof("stats.Basic: connected changed to %v", snap.Connected)
	}
	s.current = snap
}

func (s *Basic) Snapshot() Snapshot {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.current
}

// Multi returns a Recorder that forwards every Snapshot to each of recorders in order.
func Multi(recorders ...Recorder) Recorder {
	return multiRecorder(recorders)
}

type multiRecorder []Recorder

func (m multiRecorder) Record(snap Snapshot) {
	for _, r := range m {
		r.Record(snap)
	}
}
