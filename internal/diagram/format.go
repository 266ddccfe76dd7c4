package diagram

import (
	"math"
	"math/rand/v2"

	"github.com/google/uuid"
)

const (
	defaultStroke = "#1e1e1e"
	transparent   = "transparent"
	labelFontSize = 16
	textFontSize  = 20
	labelHeight   = 20
	labelPadding  = 10
)

var fills = map[ElementType]string{
	Rectangle: "#f8f9fa",
	Ellipse:   "#e3f2fd",
	Diamond:   "#fff3e0",
}

// Formatter turns positioned specs into scene elements.
type Formatter struct {
	newID func() string
	seed  func() int64
}

// FormatterOption configures a Formatter.
type FormatterOption func(*Formatter)

// WithIDs overrides id generation.
func WithIDs(gen func() string) FormatterOption {
	return func(f *Formatter) { f.newID = gen }
}

// WithSeeds overrides the source of seed and versionNonce values.
func WithSeeds(gen func() int64) FormatterOption {
	return func(f *Formatter) { f.seed = gen }
}

func NewFormatter(opts ...FormatterOption) *Formatter {
	f := &Formatter{
		newID: uuid.NewString,
		seed:  func() int64 { return rand.Int64N(1_000_000_000) },
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// NewID returns a fresh element id.
func (f *Formatter) NewID() string { return f.newID() }

// Format renders every positioned element and connector of a placement.
func (f *Formatter) Format(p Placement) []Element {
	taken := p.taken
	if taken == nil {
		taken = idSet{}
	}
	out := make([]Element, 0, len(p.Elements)*2+len(p.Connectors))
	for _, pos := range p.Elements {
		out = append(out, f.render(pos, taken)...)
	}
	for _, c := range p.Connectors {
		out = append(out, f.Connector(c))
	}
	return out
}

// render draws one positioned spec. Shapes with text come back as the shape
// followed by its bound label; the label id is claimed from taken.
func (f *Formatter) render(pos Positioned, taken idSet) []Element {
	s := pos.Spec
	e := f.base(pos.ID, s.Type, pos.Rect)
	e.CustomData = &Meta{Layer: pos.Layer}

	switch s.Type {
	case Text:
		setText(&e, s.Text, textFontSize, "left", "top")
		return []Element{e}
	case Arrow:
		e.Points = [][2]float64{{0, 0}, {pos.Rect.W, pos.Rect.H}}
		e.EndArrowhead = strPtr("arrow")
		if s.Text != "" {
			e.Text = s.Text
			e.OriginalText = s.Text
		}
		return []Element{e}
	}

	e.BackgroundColor = fills[s.Type]
	if s.Type == Rectangle {
		e.Roundness = &Roundness{Type: 3}
	}
	if s.Text == "" {
		return []Element{e}
	}
	label := f.Label(&e, s.Text, taken.claim("", f.newID))
	return []Element{e, label}
}

// Label creates a text element bound to container and links it back from the container.
func (f *Formatter) Label(container *Element, text, id string) Element {
	l := f.base(id, Text, LabelRect(container.Box(), text))
	setText(&l, text, labelFontSize, "center", "middle")
	l.ContainerID = strPtr(container.ID)
	container.BoundElements = append(container.BoundElements, BoundElement{ID: id, Type: string(Text)})
	return l
}

// Connector renders an arrow between two anchor points.
func (f *Formatter) Connector(c Connector) Element {
	dx, dy := c.End[0]-c.Start[0], c.End[1]-c.Start[1]
	e := f.base(c.ID, Arrow, Rect{X: c.Start[0], Y: c.Start[1], W: dx, H: dy})
	e.Points = [][2]float64{{0, 0}, {dx, dy}}
	e.EndArrowhead = strPtr("arrow")
	return e
}

func (f *Formatter) base(id string, t ElementType, r Rect) Element {
	return Element{
		ID:              id,
		Type:            t,
		X:               r.X,
		Y:               r.Y,
		Width:           r.W,
		Height:          r.H,
		StrokeColor:     defaultStroke,
		BackgroundColor: transparent,
		FillStyle:       "hachure",
		StrokeWidth:     1,
		StrokeStyle:     "solid",
		Roughness:       1,
		Opacity:         100,
		GroupIDs:        []string{},
		Seed:            f.seed(),
		Version:         1,
		VersionNonce:    f.seed(),
		Updated:         1,
	}
}

func setText(e *Element, text string, size float64, align, valign string) {
	e.Text = text
	e.OriginalText = text
	e.FontSize = size
	e.FontFamily = 1
	e.TextAlign = align
	e.VerticalAlign = valign
}

// LabelRect sizes a label from its text and centres it inside the container box.
func LabelRect(container Rect, text string) Rect {
	w := math.Max(float64(len([]rune(text)))*8, 20)
	if limit := container.W - labelPadding; limit > 0 && w > limit {
		w = limit
	}
	h := float64(labelHeight)
	if container.H < h {
		h = container.H
	}
	return Rect{
		X: container.X + (container.W-w)/2,
		Y: container.Y + (container.H-h)/2,
		W: w,
		H: h,
	}
}

func strPtr(s string) *string { return &s }
