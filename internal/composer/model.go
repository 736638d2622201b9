// Package composer lays out prescriber fax requests as abstract pages of
// draw operations. It performs no I/O and reads no clock; everything that
// varies between runs is passed in through Request.
package composer

import (
	"time"

	"github.com/google/uuid"
)

type Mode string

const (
	ModeSingle Mode = "single"
	ModeBatch  Mode = "batch"
)

type OpKind string

const (
	OpText     OpKind = "text"
	OpLine     OpKind = "line"
	OpRect     OpKind = "rect"
	OpCheckbox OpKind = "checkbox"
	OpField    OpKind = "field"
)

// Op is one positioned drawing instruction. Coordinates are points from the
// top-left corner of the page. For lines, (X,Y) is the start and (X+W,Y+H)
// the end.
type Op struct {
	Kind    OpKind  `json:"kind"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	W       float64 `json:"w,omitempty"`
	H       float64 `json:"h,omitempty"`
	Text    string  `json:"text,omitempty"`
	Size    float64 `json:"size,omitempty"`
	Bold    bool    `json:"bold,omitempty"`
	Fill    bool    `json:"fill,omitempty"`
	Name    string  `json:"name,omitempty"`
	Value   string  `json:"value,omitempty"`
	Checked bool    `json:"checked,omitempty"`
}

type Page struct {
	Number int  `json:"number"`
	Ops    []Op `json:"ops"`
}

type Document struct {
	Mode        Mode      `json:"mode"`
	GeneratedAt time.Time `json:"generated_at"`
	Pages       []Page    `json:"pages"`
}

// Fields returns every fillable op (text fields and checkboxes) in page order.
func (d *Document) Fields() []Op {
	var out []Op
	for _, p := range d.Pages {
		for _, op := range p.Ops {
			if op.Kind == OpField || op.Kind == OpCheckbox {
				out = append(out, op)
			}
		}
	}
	return out
}

func (d *Document) FieldNames() []string {
	fields := d.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

type PatientSummary struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	DateOfBirth string    `json:"date_of_birth,omitempty"`
}

// PrescriberSummary fields other than ID and Name may be empty; the matching
// document fields are then left blank.
type PrescriberSummary struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	NPI   string    `json:"npi,omitempty"`
	Fax   string    `json:"fax,omitempty"`
	Phone string    `json:"phone,omitempty"`
}

type PharmacySummary struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Fax     string `json:"fax"`
	NPI     string `json:"npi"`
}

type OpportunitySummary struct {
	ID                uuid.UUID `json:"id"`
	PatientID         uuid.UUID `json:"patient_id"`
	PrescriberID      uuid.UUID `json:"prescriber_id"`
	CurrentDrug       string    `json:"current_drug"`
	RecommendedDrug   string    `json:"recommended_drug"`
	InsuranceBIN      string    `json:"insurance_bin,omitempty"`
	InsuranceGroup    string    `json:"insurance_group,omitempty"`
	InsurancePCN      string    `json:"insurance_pcn,omitempty"`
	InsuranceContract string    `json:"insurance_contract,omitempty"`
	InsurancePlan     string    `json:"insurance_plan,omitempty"`
	OpportunityType   string    `json:"opportunity_type,omitempty"`
	Rationale         string    `json:"rationale,omitempty"`
}

type Request struct {
	Patient       PatientSummary
	Prescriber    PrescriberSummary
	Pharmacy      PharmacySummary
	Opportunities []OpportunitySummary
	Mode          Mode
	GeneratedAt   time.Time
}

type Options struct {
	// RepeatTableHeader redraws the batch table's column header on each
	// continuation page. Off by default.
	RepeatTableHeader bool
}
