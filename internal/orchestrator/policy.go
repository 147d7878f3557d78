// Package orchestrator drives one Ask through lane selection, guarded
// invocation, confidence evaluation, and the deterministic fallback.
package orchestrator

import (
	"strings"

	"github.com/oncallops/answergate/internal/domain"
)

// Policy decides which lane serves a question. The cloud lane is opt-in:
// a caller hint selects it only when the lane is enabled.
type Policy struct {
	CloudEnabled bool
}

// Decide maps a caller's lane hint to a lane. No hint, an unknown hint, or
// a cloud hint while the cloud lane is disabled all land on the grounded lane.
func (p Policy) Decide(laneHint string) domain.Lane {
	hint := strings.ToLower(strings.TrimSpace(laneHint))
	if hint == "cloud" || hint == string(domain.LaneCloudDirect) {
		if p.CloudEnabled {
			return domain.LaneCloudDirect
		}
	}
	return domain.LaneGrounded
}
