package composer

import (
	"fmt"
	"strings"
)

// US Letter in points.
const (
	PageWidth    = 612.0
	PageHeight   = 792.0
	Margin       = 36.0
	FooterHeight = 28.0

	contentLeft   = Margin
	contentWidth  = PageWidth - 2*Margin
	contentTop    = Margin
	contentBottom = PageHeight - Margin - FooterHeight

	colWidth = contentWidth / 2
	colRight = contentLeft + colWidth

	bandHeight  = 18.0
	rowHeight   = 18.0
	sectionGap  = 10.0
	labelWidth  = 78.0
	fieldHeight = 14.0

	labelSize = 8.0
	valueSize = 10.0

	reasonLines    = 5
	reasonLineStep = 11.0
	reasonSize     = 9.0

	tableHeaderHeight = 16.0
	tableRowHeight    = 28.0
	approveColWidth   = 44.0

	// charWidth approximates Helvetica's average advance as a fraction of
	// the font size. Layout only needs it to be consistent.
	charWidth = 0.5
)

// Minimum heights checked before each section starts.
const (
	titleHeight    = 44.0
	partiesHeight  = bandHeight + 5*rowHeight + sectionGap
	patientHeight  = bandHeight + rowHeight + sectionGap
	singleHeight   = bandHeight + 4*rowHeight + 12 + reasonLines*reasonLineStep + 6 + 6 + rowHeight + sectionGap
	batchMinHeight = bandHeight + tableHeaderHeight + tableRowHeight
	responseHeight = bandHeight + 4 + rowHeight + 12 + 48 + 26 + sectionGap
)

const confidentialityNotice = "CONFIDENTIAL: contains protected health information for the named prescriber only. " +
	"If received in error, notify the sender and destroy all copies."

// Compose lays out a request. Equal inputs produce equal documents.
func Compose(r Request, opts Options) (*Document, error) {
	if err := Validate(r); err != nil {
		return nil, err
	}

	l := &layout{opts: opts}
	l.newPage()
	l.title(r)
	l.parties(r.Prescriber, r.Pharmacy)
	l.patient(r.Patient)
	if r.Mode == ModeSingle {
		l.single(r.Opportunities[0])
	} else {
		l.batch(r.Opportunities)
	}
	l.response()
	l.stampFooters()

	return &Document{Mode: r.Mode, GeneratedAt: r.GeneratedAt, Pages: l.pages}, nil
}

type layout struct {
	opts    Options
	pages   []Page
	y       float64
	counter int
}

func (l *layout) newPage() {
	l.pages = append(l.pages, Page{Number: len(l.pages) + 1})
	l.y = contentTop
}

// ensure starts a new page when h points do not fit below the cursor.
func (l *layout) ensure(h float64) {
	if l.y+h > contentBottom {
		l.newPage()
	}
}

// name returns key_<n>; n increases across the whole document.
func (l *layout) name(key string) string {
	l.counter++
	return fmt.Sprintf("%s_%d", key, l.counter)
}

func (l *layout) add(op Op) {
	p := &l.pages[len(l.pages)-1]
	p.Ops = append(p.Ops, op)
}

func (l *layout) text(x, y, size float64, bold bool, s string) {
	l.add(Op{Kind: OpText, X: x, Y: y, Size: size, Bold: bold, Text: s})
}

func (l *layout) field(key string, x, y, w, h float64, value string) {
	l.add(Op{Kind: OpField, X: x, Y: y, W: w, H: h, Size: valueSize, Name: l.name(key), Value: value})
}

func (l *layout) checkbox(key string, x, y float64, checked bool) {
	l.add(Op{Kind: OpCheckbox, X: x, Y: y, W: 10, H: 10, Name: l.name(key), Checked: checked})
}

// labeled draws "label [field]" inside one column at the cursor row.
func (l *layout) labeled(key, label string, x, w float64, value string) {
	l.text(x+4, l.y+4, labelSize, false, label)
	l.field(key, x+labelWidth, l.y+2, w-labelWidth-6, fieldHeight, value)
}

func (l *layout) band(left, right string) {
	l.add(Op{Kind: OpRect, X: contentLeft, Y: l.y, W: contentWidth, H: bandHeight, Fill: true})
	l.text(contentLeft+6, l.y+4, valueSize, true, left)
	if right != "" {
		l.text(colRight+6, l.y+4, valueSize, true, right)
	}
	l.y += bandHeight
}

// ---------------------------------------------------------------------------
// Sections
// ---------------------------------------------------------------------------

func (l *layout) title(r Request) {
	l.ensure(titleHeight)
	l.text(contentLeft, l.y, 16, true, "Therapy Change Request")

	mode := "Single opportunity"
	if r.Mode == ModeBatch {
		mode = fmt.Sprintf("Batch request: %d opportunities", len(r.Opportunities))
	}
	l.text(contentLeft+contentWidth-textWidth(mode, 9), l.y+4, 9, false, mode)
	l.y += 20

	l.text(contentLeft, l.y, 9, false, "Generated "+r.GeneratedAt.UTC().Format("2006-01-02 15:04 MST"))
	l.y += 14
	l.add(Op{Kind: OpLine, X: contentLeft, Y: l.y, W: contentWidth})
	l.y += sectionGap
}

func (l *layout) parties(pr PrescriberSummary, ph PharmacySummary) {
	l.ensure(partiesHeight)
	l.band("PRESCRIBER", "PHARMACY")

	type cell struct{ key, label, value string }
	left := []cell{
		{"prescriber_name", "Name", pr.Name},
		{"prescriber_npi", "NPI", pr.NPI},
		{"prescriber_fax", "Fax", pr.Fax},
		{"prescriber_phone", "Phone", pr.Phone},
	}
	right := []cell{
		{"pharmacy_name", "Name", ph.Name},
		{"pharmacy_address", "Address", ph.Address},
		{"pharmacy_phone", "Phone", ph.Phone},
		{"pharmacy_fax", "Fax", ph.Fax},
		{"pharmacy_npi", "NPI", ph.NPI},
	}
	for i := 0; i < len(right); i++ {
		if i < len(left) {
			l.labeled(left[i].key, left[i].label, contentLeft, colWidth, left[i].value)
		}
		l.labeled(right[i].key, right[i].label, colRight, colWidth, right[i].value)
		l.y += rowHeight
	}
	l.y += sectionGap
}

func (l *layout) patient(p PatientSummary) {
	l.ensure(patientHeight)
	l.band("PATIENT", "")
	l.labeled("patient_name", "Name", contentLeft, colWidth, p.DisplayName)
	l.labeled("patient_dob", "Date of birth", colRight, colWidth, p.DateOfBirth)
	l.y += rowHeight + sectionGap
}

func (l *layout) single(o OpportunitySummary) {
	l.ensure(singleHeight)
	l.band("REQUESTED CHANGE", "")

	l.labeled("current_drug", "Current", contentLeft, colWidth, o.CurrentDrug)
	l.labeled("recommended_drug", "Recommended", colRight, colWidth, o.RecommendedDrug)
	l.y += rowHeight
	l.labeled("insurance_bin", "BIN", contentLeft, colWidth, o.InsuranceBIN)
	l.labeled("insurance_pcn", "PCN", colRight, colWidth, o.InsurancePCN)
	l.y += rowHeight
	l.labeled("insurance_group", "Group", contentLeft, colWidth, o.InsuranceGroup)
	l.labeled("insurance_plan", "Plan", colRight, colWidth, o.InsurancePlan)
	l.y += rowHeight
	l.labeled("insurance_contract", "Contract", contentLeft, colWidth, o.InsuranceContract)
	l.labeled("opportunity_type", "Change type", colRight, colWidth, o.OpportunityType)
	l.y += rowHeight

	l.text(contentLeft+4, l.y+2, labelSize, true, "Reason for request")
	l.y += 12
	boxHeight := reasonLines*reasonLineStep + 6
	l.add(Op{Kind: OpRect, X: contentLeft, Y: l.y, W: contentWidth, H: boxHeight})
	lines := clampLines(wrap(o.Rationale, contentWidth-8, reasonSize), reasonLines, maxChars(contentWidth-8, reasonSize))
	for i, line := range lines {
		l.text(contentLeft+4, l.y+3+float64(i)*reasonLineStep, reasonSize, false, line)
	}
	l.y += boxHeight + 6

	class := Classify(o.OpportunityType)
	l.checkbox("class_generic", contentLeft+4, l.y+3, class == ClassGeneric)
	l.text(contentLeft+18, l.y+4, labelSize, false, "Generic substitution")
	l.checkbox("class_therapeutic", colRight+4, l.y+3, class == ClassTherapeutic)
	l.text(colRight+18, l.y+4, labelSize, false, "Therapeutic alternative")
	l.y += rowHeight + sectionGap
}

func (l *layout) batch(opps []OpportunitySummary) {
	l.ensure(batchMinHeight)
	l.band(fmt.Sprintf("REQUESTED CHANGES (%d)", len(opps)), "")
	l.tableHeader()

	drugWidth := (contentWidth - approveColWidth) / 2
	for _, o := range opps {
		if l.y+tableRowHeight > contentBottom {
			l.newPage()
			if l.opts.RepeatTableHeader {
				l.tableHeader()
			}
		}
		l.text(contentLeft+4, l.y+4, reasonSize, false, truncate(o.CurrentDrug, drugWidth-8, reasonSize))
		l.text(contentLeft+drugWidth+4, l.y+4, reasonSize, false, truncate(o.RecommendedDrug, drugWidth-8, reasonSize))
		if ins := insuranceLine(o); ins != "" {
			l.text(contentLeft+4, l.y+16, 7, false, truncate(ins, drugWidth-8, 7))
		}
		if kind := classLabel(Classify(o.OpportunityType)); kind != "" {
			l.text(contentLeft+drugWidth+4, l.y+16, 7, false, kind)
		}
		l.checkbox("approve_row", contentLeft+contentWidth-approveColWidth/2-5, l.y+9, false)
		l.y += tableRowHeight
		l.add(Op{Kind: OpLine, X: contentLeft, Y: l.y, W: contentWidth})
	}
	l.y += sectionGap
}

func (l *layout) tableHeader() {
	drugWidth := (contentWidth - approveColWidth) / 2
	l.add(Op{Kind: OpRect, X: contentLeft, Y: l.y, W: contentWidth, H: tableHeaderHeight})
	l.text(contentLeft+4, l.y+4, labelSize, true, "Current medication")
	l.text(contentLeft+drugWidth+4, l.y+4, labelSize, true, "Recommended alternative")
	l.text(contentLeft+contentWidth-approveColWidth+4, l.y+4, labelSize, true, "Approve")
	l.y += tableHeaderHeight
}

// response is always the last section, on a fresh page if it does not fit.
func (l *layout) response() {
	l.ensure(responseHeight)
	l.band("PRESCRIBER RESPONSE", "")
	l.y += 4

	l.checkbox("response_approve", contentLeft+4, l.y+3, false)
	l.text(contentLeft+18, l.y+4, valueSize, false, "Approved")
	l.checkbox("response_deny", contentLeft+120, l.y+3, false)
	l.text(contentLeft+134, l.y+4, valueSize, false, "Denied")
	l.y += rowHeight

	l.text(contentLeft+4, l.y+2, labelSize, true, "Comments")
	l.y += 12
	l.field("response_comments", contentLeft, l.y, contentWidth, 40, "")
	l.y += 48

	l.text(contentLeft+4, l.y+8, labelSize, false, "Prescriber signature")
	l.add(Op{Kind: OpLine, X: contentLeft + 94, Y: l.y + 20, W: 250})
	l.field("prescriber_signature", contentLeft+94, l.y+4, 250, 16, "")
	l.text(contentLeft+364, l.y+8, labelSize, false, "Date")
	l.field("response_date", contentLeft+390, l.y+4, contentWidth-390, 16, "")
	l.y += 26 + sectionGap
}

// stampFooters runs after layout so every page knows the total count.
func (l *layout) stampFooters() {
	total := len(l.pages)
	y := contentBottom + 6
	for i := range l.pages {
		p := &l.pages[i]
		label := fmt.Sprintf("Page %d of %d", i+1, total)
		p.Ops = append(p.Ops,
			Op{Kind: OpLine, X: contentLeft, Y: y, W: contentWidth},
			Op{Kind: OpText, X: contentLeft, Y: y + 6, Size: 6, Text: truncate(confidentialityNotice, contentWidth-70, 6)},
			Op{Kind: OpText, X: contentLeft + contentWidth - textWidth(label, 8), Y: y + 6, Size: 8, Text: label},
		)
	}
}

// ---------------------------------------------------------------------------
// Text helpers
// ---------------------------------------------------------------------------

func textWidth(s string, size float64) float64 {
	return float64(len([]rune(s))) * size * charWidth
}

func maxChars(width, size float64) int {
	n := int(width / (size * charWidth))
	if n < 1 {
		n = 1
	}
	return n
}

func truncate(s string, width, size float64) string {
	n := maxChars(width, size)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

// wrap breaks text into lines of at most width, splitting words that are
// longer than a line.
func wrap(text string, width, size float64) []string {
	n := maxChars(width, size)
	var lines []string
	var cur []rune
	for _, word := range strings.Fields(text) {
		w := []rune(word)
		for len(w) > n {
			if len(cur) > 0 {
				lines = append(lines, string(cur))
				cur = nil
			}
			lines = append(lines, string(w[:n]))
			w = w[n:]
		}
		switch {
		case len(w) == 0:
		case len(cur) == 0:
			cur = append([]rune(nil), w...)
		case len(cur)+1+len(w) <= n:
			cur = append(append(cur, ' '), w...)
		default:
			lines = append(lines, string(cur))
			cur = append([]rune(nil), w...)
		}
	}
	if len(cur) > 0 {
		lines = append(lines, string(cur))
	}
	return lines
}

// clampLines keeps at most n lines, marking the cut with "...".
func clampLines(lines []string, n, width int) []string {
	if len(lines) <= n {
		return lines
	}
	out := append([]string(nil), lines[:n]...)
	last := []rune(out[n-1])
	if len(last)+3 > width {
		last = last[:width-3]
	}
	out[n-1] = string(last) + "..."
	return out
}

func insuranceLine(o OpportunitySummary) string {
	var parts []string
	if o.InsuranceBIN != "" {
		parts = append(parts, "BIN "+o.InsuranceBIN)
	}
	if o.InsurancePCN != "" {
		parts = append(parts, "PCN "+o.InsurancePCN)
	}
	if o.InsuranceGroup != "" {
		parts = append(parts, "GRP "+o.InsuranceGroup)
	}
	return strings.Join(parts, "  ")
}

func classLabel(c Classification) string {
	switch c {
	case ClassGeneric:
		return "Generic substitution"
	case ClassTherapeutic:
		return "Therapeutic alternative"
	}
	return ""
}
