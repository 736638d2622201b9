package faxing

import (
	"time"

	"github.com/google/uuid"

	"github.com/oppdash/oppdash/internal/domain/opportunity"
)

type PreflightRequest struct {
	PrescriberNPI string `json:"prescriber_npi"`
}

// PreflightResult tells the client whether a send would be accepted right
// now. Warnings are shown verbatim, in order.
type PreflightResult struct {
	CanSend        bool     `json:"can_send"`
	Warnings       []string `json:"warnings"`
	SavedFaxNumber *string  `json:"saved_fax_number,omitempty"`
	DailyCount     int      `json:"daily_count"`
	DailyLimit     int      `json:"daily_limit"`
}

type SendRequest struct {
	PrescriberFaxNumber string `json:"prescriber_fax_number"`
	PrescriberNPI       string `json:"prescriber_npi"`
	NPIConfirmed        bool   `json:"npi_confirmed"`
}

type SendResponse struct {
	TransmissionID uuid.UUID          `json:"transmission_id"`
	Status         opportunity.Status `json:"status"`
	DailyCount     int                `json:"daily_count"`
	DailyLimit     int                `json:"daily_limit"`
}

// Transmission is one confirmed fax to a prescriber.
type Transmission struct {
	ID            uuid.UUID `db:"id" json:"id"`
	OpportunityID uuid.UUID `db:"opportunity_id" json:"opportunity_id"`
	PatientID     uuid.UUID `db:"patient_id" json:"patient_id"`
	PrescriberID  uuid.UUID `db:"prescriber_id" json:"prescriber_id"`
	FaxNumber     string    `db:"fax_number" json:"fax_number"`
	PrescriberNPI string    `db:"prescriber_npi" json:"prescriber_npi"`
	ProviderRef   string    `db:"provider_ref" json:"provider_ref"`
	PageCount     int       `db:"page_count" json:"page_count"`
	ArchiveKey    *string   `db:"archive_key" json:"archive_key,omitempty"`
	SentBy        string    `db:"sent_by" json:"sent_by"`
	SentAt        time.Time `db:"sent_at" json:"sent_at"`
}

type SavedFax struct {
	PrescriberID uuid.UUID `db:"prescriber_id" json:"prescriber_id"`
	FaxNumber    string    `db:"fax_number" json:"fax_number"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}
