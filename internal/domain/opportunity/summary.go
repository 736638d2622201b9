package opportunity

import "github.com/oppdash/oppdash/internal/composer"

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Summary is the opportunity as the document composer sees it.
func (o *Opportunity) Summary() composer.OpportunitySummary {
	return composer.OpportunitySummary{
		ID:                o.ID,
		PatientID:         o.PatientID,
		PrescriberID:      o.PrescriberID,
		CurrentDrug:       o.CurrentDrug,
		RecommendedDrug:   o.RecommendedDrug,
		InsuranceBIN:      deref(o.InsuranceBIN),
		InsuranceGroup:    deref(o.InsuranceGroup),
		InsurancePCN:      deref(o.InsurancePCN),
		InsuranceContract: deref(o.InsuranceContract),
		InsurancePlan:     deref(o.InsurancePlan),
		OpportunityType:   deref(o.OpportunityType),
		Rationale:         deref(o.Rationale),
	}
}

// Summary leaves NPI and fax blank when they are not on record.
func (p *Prescriber) Summary() composer.PrescriberSummary {
	return composer.PrescriberSummary{
		ID:    p.ID,
		Name:  p.Name,
		NPI:   deref(p.NPI),
		Fax:   deref(p.FaxNumber),
		Phone: deref(p.Phone),
	}
}
