package prescribervolume

import (
	"time"

	"github.com/google/uuid"
)

// Stats summarises how many of a prescriber's opportunities have been
// actioned inside the rolling window, with the thresholds that apply.
type Stats struct {
	PrescriberID           uuid.UUID `json:"prescriber_id"`
	UniquePatientsActioned int       `json:"unique_patients_actioned"`
	TotalOppsActioned      int       `json:"total_opps_actioned"`
	WarnThreshold          int       `json:"warn_threshold"`
	BlockThreshold         *int      `json:"block_threshold"`
	ShouldWarn             bool      `json:"should_warn"`
	ShouldBlock            bool      `json:"should_block"`
	WindowDays             int       `json:"window_days"`
}

// Thresholds are counted in distinct patients. A Warn of zero disables the
// warning and a nil Block disables the hard stop.
type Thresholds struct {
	PrescriberID uuid.UUID `json:"prescriber_id"`
	Warn         int       `json:"warn_threshold"`
	Block        *int      `json:"block_threshold"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Evaluate fills the decision flags from the counts and thresholds. Block is
// monotonic: once the count reaches it, every later evaluation blocks.
func (s *Stats) Evaluate() {
	s.ShouldBlock = s.BlockThreshold != nil && s.UniquePatientsActioned >= *s.BlockThreshold
	s.ShouldWarn = s.WarnThreshold > 0 && s.UniquePatientsActioned >= s.WarnThreshold
}
