package opportunity

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

type Status string

const (
	StatusNotSubmitted Status = "not_submitted"
	StatusSubmitted    Status = "submitted"
	StatusApproved     Status = "approved"
	StatusCompleted    Status = "completed"
	StatusDenied       Status = "denied"
	StatusDidntWork    Status = "didnt_work"
	StatusFlagged      Status = "flagged"
)

// statusRank orders statuses for forward-only progress. Statuses sharing a
// rank are alternative outcomes and cannot replace one another.
var statusRank = map[Status]int{
	StatusNotSubmitted: 0,
	StatusFlagged:      1,
	StatusSubmitted:    2,
	StatusApproved:     3,
	StatusDenied:       3,
	StatusDidntWork:    3,
	StatusCompleted:    4,
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := statusRank[st]; !ok {
		return "", fmt.Errorf("invalid status: %s", s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// IsActioned reports whether s counts toward a prescriber's request volume.
func (s Status) IsActioned() bool {
	return s == StatusSubmitted || s == StatusApproved || s == StatusCompleted
}

// CanAdvanceTo reports whether moving from s to next is forward progress.
func (s Status) CanAdvanceTo(next Status) bool {
	from, ok1 := statusRank[s]
	to, ok2 := statusRank[next]
	return ok1 && ok2 && to > from
}

// Opportunity is a proposed drug-therapy change for one patient.
type Opportunity struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	PatientID         uuid.UUID  `db:"patient_id" json:"patient_id"`
	PrescriberID      uuid.UUID  `db:"prescriber_id" json:"prescriber_id"`
	CurrentDrug       string     `db:"current_drug" json:"current_drug"`
	RecommendedDrug   string     `db:"recommended_drug" json:"recommended_drug"`
	PerFillMargin     float64    `db:"per_fill_margin" json:"per_fill_margin"`
	AnnualMargin      float64    `db:"annual_margin" json:"annual_margin"`
	InsuranceBIN      *string    `db:"insurance_bin" json:"insurance_bin,omitempty"`
	InsuranceGroup    *string    `db:"insurance_group" json:"insurance_group,omitempty"`
	InsurancePCN      *string    `db:"insurance_pcn" json:"insurance_pcn,omitempty"`
	InsuranceContract *string    `db:"insurance_contract" json:"insurance_contract,omitempty"`
	InsurancePlan     *string    `db:"insurance_plan" json:"insurance_plan,omitempty"`
	OpportunityType   *string    `db:"opportunity_type" json:"opportunity_type,omitempty"`
	Rationale         *string    `db:"rationale" json:"rationale,omitempty"`
	Status            Status     `db:"status" json:"status"`
	StaffNotes        *string    `db:"staff_notes" json:"staff_notes,omitempty"`
	ActionedAt        *time.Time `db:"actioned_at" json:"actioned_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

type Patient struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	FirstName   string     `db:"first_name" json:"first_name"`
	LastName    string     `db:"last_name" json:"last_name"`
	DateOfBirth *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
}

const maskedNameLen = 8

// DisplayName returns the full name only for the configured demo account.
// Everyone else sees a fixed-width mask so name length leaks nothing.
func (p *Patient) DisplayName(viewer, demoAccount string) string {
	if demoAccount != "" && viewer == demoAccount {
		return p.FirstName + " " + p.LastName
	}
	initial, _ := utf8.DecodeRuneInString(p.FirstName)
	if initial == utf8.RuneError {
		initial = '*'
	}
	mask := make([]rune, maskedNameLen)
	mask[0] = initial
	for i := 1; i < maskedNameLen; i++ {
		mask[i] = '*'
	}
	return string(mask)
}

// FullName is used only where the name must reach the prescriber.
func (p *Patient) FullName() string {
	return p.FirstName + " " + p.LastName
}

type Prescriber struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	NPI         *string   `db:"npi" json:"npi,omitempty"`
	NPIVerified bool      `db:"npi_verified" json:"npi_verified"`
	FaxNumber   *string   `db:"fax_number" json:"fax_number,omitempty"`
	Phone       *string   `db:"phone" json:"phone,omitempty"`
}

// Detail is the read model returned to clients: the opportunity with the
// patient reduced to what the viewer may see and the prescriber inlined.
type Detail struct {
	*Opportunity
	PatientName string     `json:"patient_name"`
	PatientDOB  *time.Time `json:"patient_dob,omitempty"`
	Prescriber  Prescriber `json:"prescriber"`
}
