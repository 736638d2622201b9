package hipaa

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMemoryDisclosureStore_RecordValidates(t *testing.T) {
	s := NewMemoryDisclosureStore()
	ctx := context.Background()

	tests := []struct {
		name string
		d    *Disclosure
	}{
		{"missing patient", &Disclosure{DisclosedTo: "Dr A", Purpose: PurposeTreatment, Method: MethodFax}},
		{"missing recipient", &Disclosure{PatientID: uuid.New(), Purpose: PurposeTreatment, Method: MethodFax}},
		{"missing purpose", &Disclosure{PatientID: uuid.New(), DisclosedTo: "Dr A", Method: MethodFax}},
		{"missing method", &Disclosure{PatientID: uuid.New(), DisclosedTo: "Dr A", Purpose: PurposeTreatment}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Record(ctx, tt.d); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestMemoryDisclosureStore_ListByPatient(t *testing.T) {
	s := NewMemoryDisclosureStore()
	ctx := context.Background()
	patient := uuid.New()
	now := time.Now().UTC()

	for i, ts := range []time.Time{now.Add(-48 * time.Hour), now, now.Add(-time.Hour)} {
		d := &Disclosure{
			PatientID: patient, DisclosedTo: "Dr A", Purpose: PurposeTreatment,
			Method: MethodFax, DateDisclosed: ts, Description: string(rune('a' + i)),
		}
		if err := s.Record(ctx, d); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	_ = s.Record(ctx, &Disclosure{PatientID: uuid.New(), DisclosedTo: "Dr B", Purpose: PurposeTreatment, Method: MethodFax})

	got, err := s.ListByPatient(ctx, patient, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 disclosures, got %d", len(got))
	}
	if got[0].Description != "b" || got[2].Description != "a" {
		t.Errorf("expected most recent first, got %s..%s", got[0].Description, got[2].Description)
	}
	if got[0].ID == uuid.Nil {
		t.Error("expected ID to be assigned")
	}

	recent, _ := s.ListByPatient(ctx, patient, now.Add(-2*time.Hour), time.Time{})
	if len(recent) != 2 {
		t.Errorf("expected 2 disclosures in window, got %d", len(recent))
	}
}
