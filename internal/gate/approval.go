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

package gate

import (
	"time"

	"github.com/google/uuid"

	"github.com/fyreflow/core/internal/model"
)

// newApprovalRequest builds the ApprovalRequest a manual_approval gate
// always emits. Resolution (approved/rejected) happens later, out of
// band, and is applied with ResolveApproval.
func newApprovalRequest(runID string, g model.QualityGate, step model.Step, createdAt time.Time) model.ApprovalRequest {
	return model.ApprovalRequest{
		ID:        uuid.NewString(),
		RunID:     runID,
		GateID:    g.ID,
		GateName:  g.Name,
		StepID:    step.ID,
		StepName:  step.Name,
		Status:    model.ApprovalPending,
		Message:   g.Message,
		CreatedAt: createdAt,
	}
}

// ResolveApproval rewrites a gate result to reflect an approval
// decision: approved becomes pass, rejected becomes fail.
func ResolveApproval(result model.GateResult, status model.ApprovalStatus) model.GateResult {
	switch status {
	case model.ApprovalApproved:
		result.Status = model.GateStatusPass
		result.Message = "approved"
	case model.ApprovalRejected:
		result.Status = model.GateStatusFail
		result.Message = "rejected"
	}
	return result
}
