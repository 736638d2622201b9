package pharmacy

import "time"

// Profile prefills the pharmacy block of every generated document.
type Profile struct {
	Name        string    `db:"name" json:"name"`
	AddressLine string    `db:"address_line" json:"address_line"`
	City        string    `db:"city" json:"city"`
	State       string    `db:"state" json:"state"`
	PostalCode  string    `db:"postal_code" json:"postal_code"`
	Phone       string    `db:"phone" json:"phone"`
	Fax         string    `db:"fax" json:"fax"`
	NPI         string    `db:"npi" json:"npi"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Address renders the single-line postal address.
func (p *Profile) Address() string {
	out := p.AddressLine
	locality := p.City
	if p.State != "" {
		if locality != "" {
			locality += ", "
		}
		locality += p.State
	}
	if p.PostalCode != "" {
		if locality != "" {
			locality += " "
		}
		locality += p.PostalCode
	}
	if locality != "" {
		if out != "" {
			out += ", "
		}
		out += locality
	}
	return out
}
