// Package export encodes composed documents as fillable PDF files.
package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/oppdash/oppdash/internal/composer"
)

const ContentType = "application/pdf"

const (
	bandColor   = "#D9D9D9"
	lineColor   = "#000000"
	lineWidth   = 0.75
	regularFont = "Helvetica"
	boldFont    = "Helvetica-Bold"
	// baseline offset of a text line below its top edge, as a share of the font size
	ascent = 0.8
)

func init() {
	// keep pdfcpu from creating a config dir under the service user's home
	model.ConfigPath = "disable"
}

// layout mirrors the subset of pdfcpu's create JSON the composer needs.
// Coordinates use an upper-left origin; pos is the element's lower-left corner.
type layout struct {
	Paper  string           `json:"paper"`
	Origin string           `json:"origin"`
	Pages  map[string]*page `json:"pages"`
}

type page struct {
	Content content `json:"content"`
}

type content struct {
	Boxes      []box       `json:"box,omitempty"`
	Texts      []text      `json:"text,omitempty"`
	TextFields []textField `json:"textfield,omitempty"`
	CheckBoxes []checkBox  `json:"checkbox,omitempty"`
}

type font struct {
	Name string `json:"name"`
	Size int    `json:"size"`
}

type border struct {
	Width int    `json:"width"`
	Color string `json:"col"`
}

type box struct {
	Pos    [2]float64 `json:"pos"`
	Width  float64    `json:"width"`
	Height float64    `json:"height"`
	Fill   string     `json:"fillCol,omitempty"`
	Border *border    `json:"border,omitempty"`
}

type text struct {
	Value string     `json:"value"`
	Pos   [2]float64 `json:"pos"`
	Font  font       `json:"font"`
}

type textField struct {
	ID     string     `json:"id"`
	Value  string     `json:"value,omitempty"`
	Pos    [2]float64 `json:"pos"`
	Width  float64    `json:"width"`
	Height float64    `json:"height,omitempty"`
	Font   font       `json:"font"`
}

type checkBox struct {
	ID    string     `json:"id"`
	Value bool       `json:"value"`
	Pos   [2]float64 `json:"pos"`
	Width float64    `json:"width"`
}

// Encode writes doc as a PDF with one AcroForm field per fillable op.
func Encode(doc *composer.Document, w io.Writer) (int64, error) {
	l, err := build(doc)
	if err != nil {
		return 0, err
	}
	spec, err := json.Marshal(l)
	if err != nil {
		return 0, fmt.Errorf("marshal layout: %w", err)
	}
	cw := &countingWriter{w: w}
	if err := api.Create(nil, bytes.NewReader(spec), cw, model.NewDefaultConfiguration()); err != nil {
		return cw.n, fmt.Errorf("create pdf: %w", err)
	}
	return cw.n, nil
}

// Render is Encode into memory.
func Render(doc *composer.Document) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := Encode(doc, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func build(doc *composer.Document) (*layout, error) {
	if len(doc.Pages) == 0 {
		return nil, errors.New("document has no pages")
	}
	l := &layout{Paper: "LetterP", Origin: "UpperLeft", Pages: make(map[string]*page, len(doc.Pages))}
	seen := make(map[string]bool)
	for i, p := range doc.Pages {
		var c content
		for _, op := range p.Ops {
			if op.Kind == composer.OpField || op.Kind == composer.OpCheckbox {
				if seen[op.Name] {
					return nil, fmt.Errorf("page %d: duplicate field %q", p.Number, op.Name)
				}
				seen[op.Name] = true
			}
			if err := c.add(op); err != nil {
				return nil, fmt.Errorf("page %d: %w", p.Number, err)
			}
		}
		l.Pages[strconv.Itoa(i+1)] = &page{Content: c}
	}
	return l, nil
}

func (c *content) add(op composer.Op) error {
	switch op.Kind {
	case composer.OpText:
		if op.Text == "" {
			return nil
		}
		c.Texts = append(c.Texts, text{
			Value: op.Text,
			Pos:   [2]float64{op.X, op.Y + op.Size*ascent},
			Font:  fontFor(op),
		})
	case composer.OpLine:
		w, h := math.Max(op.W, lineWidth), math.Max(op.H, lineWidth)
		c.Boxes = append(c.Boxes, box{Pos: [2]float64{op.X, op.Y + h}, Width: w, Height: h, Fill: lineColor})
	case composer.OpRect:
		b := box{Pos: [2]float64{op.X, op.Y + op.H}, Width: op.W, Height: op.H}
		if op.Fill {
			b.Fill = bandColor
		} else {
			b.Border = &border{Width: 1, Color: lineColor}
		}
		c.Boxes = append(c.Boxes, b)
	case composer.OpField:
		c.TextFields = append(c.TextFields, textField{
			ID:     op.Name,
			Value:  op.Value,
			Pos:    [2]float64{op.X, op.Y + op.H},
			Width:  op.W,
			Height: op.H,
			Font:   fontFor(op),
		})
	case composer.OpCheckbox:
		c.CheckBoxes = append(c.CheckBoxes, checkBox{
			ID:    op.Name,
			Value: op.Checked,
			Pos:   [2]float64{op.X, op.Y + op.W},
			Width: op.W,
		})
	default:
		return fmt.Errorf("unknown op kind %q", op.Kind)
	}
	return nil
}

func fontFor(op composer.Op) font {
	f := font{Name: regularFont, Size: int(math.Round(op.Size))}
	if op.Bold {
		f.Name = boldFont
	}
	if f.Size < 1 {
		f.Size = 10
	}
	return f
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// FileName builds fax_<patient>_<prescriber>_<mode>_<YYYY-MM-DD>.pdf with
// each part reduced to letters, digits and dashes.
func FileName(patient, prescriber string, mode composer.Mode, at time.Time) string {
	return fmt.Sprintf("fax_%s_%s_%s_%s.pdf",
		slug(patient), slug(prescriber), slug(string(mode)), at.UTC().Format("2006-01-02"))
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimRight(b.String(), "-")
	if out == "" {
		return "unknown"
	}
	return out
}
