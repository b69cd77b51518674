// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package runner

// controlKind identifies the external operation a controlMsg carries.
type controlKind string

const (
	controlStop          controlKind = "stop"
	controlPause         controlKind = "pause"
	controlResume        controlKind = "resume"
	controlApprove       controlKind = "approve"
	controlSubmitInputs  controlKind = "submit_inputs"
)

// controlMsg is one operation serialized onto a run's control channel.
// The dispatch loop applies it at the next boundary or suspension
// release; nothing outside the dispatch goroutine mutates run.state
// directly.
type controlMsg struct {
	kind controlKind

	approvalID string
	approved   bool
	note       string

	inputs map[string]string

	// ack, when non-nil, is closed once the dispatch loop has applied
	// this message, letting the caller (an API handler, say) block
	// until the effect is visible.
	ack chan struct{}
}

func (m controlMsg) acknowledge() {
	if m.ack != nil {
		close(m.ack)
	}
}
