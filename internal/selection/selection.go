// Package selection holds the interactive multi-select state used to build
// batch fax requests for one patient. A Model is owned by a single caller and
// is not safe for concurrent use.
package selection

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/oppdash/oppdash/internal/composer"
)

var (
	ErrForeignPatient     = errors.New("opportunity belongs to another patient")
	ErrDuplicate          = errors.New("duplicate opportunity")
	ErrEmptySelection     = errors.New("no opportunities selected")
	ErrBatchUnavailable   = errors.New("batch mode is not available in this context")
	ErrPrescriberMismatch = errors.New("prescriber does not match the selection")
)

// Grouping is the dimension the opportunity list is currently grouped by.
type Grouping string

const (
	GroupByPatient    Grouping = "patient"
	GroupByPrescriber Grouping = "prescriber"
	GroupByInsurance  Grouping = "insurance"
	GroupByDrug       Grouping = "drug"
	GroupByCategory   Grouping = "category"
)

// BatchAvailable reports whether batch mode may be offered. Any grouping
// other than by patient could span patients, and a patient with a single
// opportunity has nothing to batch.
func BatchAvailable(g Grouping, count int) bool {
	return g == GroupByPatient && count > 1
}

type Candidate struct {
	composer.OpportunitySummary
	PrescriberName string `json:"prescriber_name"`
}

type Group struct {
	PrescriberID   uuid.UUID
	PrescriberName string
	Candidates     []Candidate
}

// Notice is a user-facing explanation for a rejected action.
type Notice string

type Model struct {
	patientID  uuid.UUID
	candidates []Candidate
	index      map[uuid.UUID]int
	selected   map[uuid.UUID]bool
}

// New builds a model over one patient's opportunities.
func New(patientID uuid.UUID, candidates []Candidate) (*Model, error) {
	m := &Model{
		patientID:  patientID,
		candidates: make([]Candidate, 0, len(candidates)),
		index:      make(map[uuid.UUID]int, len(candidates)),
		selected:   make(map[uuid.UUID]bool),
	}
	for _, c := range candidates {
		if c.PatientID != patientID {
			return nil, fmt.Errorf("%w: %s", ErrForeignPatient, c.ID)
		}
		if _, ok := m.index[c.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, c.ID)
		}
		m.index[c.ID] = len(m.candidates)
		m.candidates = append(m.candidates, c)
	}
	return m, nil
}

func (m *Model) PatientID() uuid.UUID { return m.patientID }

func (m *Model) Len() int { return len(m.candidates) }

// BatchAvailable applies the package rule to this patient's opportunity count.
func (m *Model) BatchAvailable(g Grouping) bool {
	return BatchAvailable(g, len(m.candidates))
}

// Toggle adds or removes one opportunity. Adding an opportunity for a
// different prescriber than the current selection is refused and the
// selection is left unchanged.
func (m *Model) Toggle(id uuid.UUID) (Notice, bool) {
	i, ok := m.index[id]
	if !ok {
		return "That opportunity is not in this patient's list.", false
	}
	if m.selected[id] {
		delete(m.selected, id)
		return "", true
	}
	c := m.candidates[i]
	if cur, ok := m.current(); ok && cur.PrescriberID != c.PrescriberID {
		return Notice(fmt.Sprintf(
			"Opportunities for %s are already selected. A batch request can only go to one prescriber; clear the selection to switch to %s.",
			cur.PrescriberName, c.PrescriberName)), false
	}
	m.selected[id] = true
	return "", true
}

// SelectAllForPrescriber selects every opportunity for the named prescriber,
// replacing the current selection. When that set is already fully selected
// the selection is cleared instead, so calling it twice is a no-op pair.
func (m *Model) SelectAllForPrescriber(name string) (Notice, bool) {
	var match []Group
	for _, g := range m.Groups() {
		if g.PrescriberName == name {
			match = append(match, g)
		}
	}
	switch len(match) {
	case 0:
		return Notice(fmt.Sprintf("No opportunities for %s.", name)), false
	case 1:
	default:
		return Notice(fmt.Sprintf("More than one prescriber is named %s; select their opportunities individually.", name)), false
	}

	g := match[0]
	all := true
	for _, c := range g.Candidates {
		if !m.selected[c.ID] {
			all = false
			break
		}
	}
	if all && len(m.selected) == len(g.Candidates) {
		m.Clear()
		return "", true
	}

	m.selected = make(map[uuid.UUID]bool, len(g.Candidates))
	for _, c := range g.Candidates {
		m.selected[c.ID] = true
	}
	return "", true
}

func (m *Model) Clear() {
	m.selected = make(map[uuid.UUID]bool)
}

func (m *Model) IsSelected(id uuid.UUID) bool { return m.selected[id] }

// Selected returns the selection in list order.
func (m *Model) Selected() []Candidate {
	out := make([]Candidate, 0, len(m.selected))
	for _, c := range m.candidates {
		if m.selected[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

func (m *Model) current() (Candidate, bool) {
	for _, c := range m.candidates {
		if m.selected[c.ID] {
			return c, true
		}
	}
	return Candidate{}, false
}

// Groups returns the opportunities grouped by prescriber, ordered by
// prescriber name and then ID. Candidates keep list order within a group.
func (m *Model) Groups() []Group {
	byID := make(map[uuid.UUID]int)
	var groups []Group
	for _, c := range m.candidates {
		i, ok := byID[c.PrescriberID]
		if !ok {
			i = len(groups)
			byID[c.PrescriberID] = i
			groups = append(groups, Group{PrescriberID: c.PrescriberID, PrescriberName: c.PrescriberName})
		}
		groups[i].Candidates = append(groups[i].Candidates, c)
	}
	sort.SliceStable(groups, func(a, b int) bool {
		if groups[a].PrescriberName != groups[b].PrescriberName {
			return groups[a].PrescriberName < groups[b].PrescriberName
		}
		return groups[a].PrescriberID.String() < groups[b].PrescriberID.String()
	})
	return groups
}

// ComposeRequest turns the selection into a composer request. One selected
// opportunity yields a single document; more require batch mode to be
// available under g.
func (m *Model) ComposeRequest(
	g Grouping,
	patient composer.PatientSummary,
	prescriber composer.PrescriberSummary,
	pharmacy composer.PharmacySummary,
	generatedAt time.Time,
) (composer.Request, error) {
	sel := m.Selected()
	if len(sel) == 0 {
		return composer.Request{}, ErrEmptySelection
	}
	mode := composer.ModeSingle
	if len(sel) > 1 {
		if !m.BatchAvailable(g) {
			return composer.Request{}, fmt.Errorf("%w: grouped by %s", ErrBatchUnavailable, g)
		}
		mode = composer.ModeBatch
	}
	if prescriber.ID != sel[0].PrescriberID {
		return composer.Request{}, ErrPrescriberMismatch
	}

	opps := make([]composer.OpportunitySummary, len(sel))
	for i, c := range sel {
		opps[i] = c.OpportunitySummary
	}
	req := composer.Request{
		Patient:       patient,
		Prescriber:    prescriber,
		Pharmacy:      pharmacy,
		Opportunities: opps,
		Mode:          mode,
		GeneratedAt:   generatedAt,
	}
	if err := composer.Validate(req); err != nil {
		return composer.Request{}, err
	}
	return req, nil
}
