// Package diagram turns loosely structured patch proposals into laid-out,
// Excalidraw-compatible elements and merges them into a scene.
package diagram

import "encoding/json"

// ElementType is the kind of a diagram element.
type ElementType string

const (
	Rectangle ElementType = "rectangle"
	Ellipse   ElementType = "ellipse"
	Diamond   ElementType = "diamond"
	Arrow     ElementType = "arrow"
	Text      ElementType = "text"
)

// IsShape reports whether elements of this type occupy a box on the canvas.
func (t ElementType) IsShape() bool {
	return t == Rectangle || t == Ellipse || t == Diamond
}

// Layer is the semantic band an element is placed in.
type Layer string

const (
	LayerFrontend Layer = "frontend"
	LayerAPI      Layer = "api"
	LayerService  Layer = "service"
	LayerCache    Layer = "cache"
	LayerData     Layer = "data"
	LayerExternal Layer = "external"
)

// Coordinate and content limits shared by validation and layout.
const (
	CoordMin      = -5000.0
	CoordMax      = 5000.0
	MaxTextLength = 120
)

// Roundness is the corner style of a shape.
type Roundness struct {
	Type int `json:"type"`
}

// BoundElement links a container to an element bound to it.
type BoundElement struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Meta is stored in the element's customData.
type Meta struct {
	Layer Layer `json:"layer,omitempty"`
}

// Element is one Excalidraw scene element.
type Element struct {
	ID              string         `json:"id"`
	Type            ElementType    `json:"type"`
	X               float64        `json:"x"`
	Y               float64        `json:"y"`
	Width           float64        `json:"width"`
	Height          float64        `json:"height"`
	Angle           float64        `json:"angle"`
	StrokeColor     string         `json:"strokeColor"`
	BackgroundColor string         `json:"backgroundColor"`
	FillStyle       string         `json:"fillStyle"`
	StrokeWidth     float64        `json:"strokeWidth"`
	StrokeStyle     string         `json:"strokeStyle"`
	Roughness       int            `json:"roughness"`
	Opacity         int            `json:"opacity"`
	GroupIDs        []string       `json:"groupIds"`
	FrameID         *string        `json:"frameId"`
	Roundness       *Roundness     `json:"roundness"`
	Seed            int64          `json:"seed"`
	Version         int            `json:"version"`
	VersionNonce    int64          `json:"versionNonce"`
	IsDeleted       bool           `json:"isDeleted"`
	BoundElements   []BoundElement `json:"boundElements"`
	Updated         int64          `json:"updated"`
	Link            *string        `json:"link"`
	Locked          bool           `json:"locked"`
	CustomData      *Meta          `json:"customData,omitempty"`

	// text
	Text          string  `json:"text,omitempty"`
	OriginalText  string  `json:"originalText,omitempty"`
	FontSize      float64 `json:"fontSize,omitempty"`
	FontFamily    int     `json:"fontFamily,omitempty"`
	TextAlign     string  `json:"textAlign,omitempty"`
	VerticalAlign string  `json:"verticalAlign,omitempty"`
	ContainerID   *string `json:"containerId,omitempty"`

	// arrow
	Points         [][2]float64 `json:"points,omitempty"`
	StartArrowhead *string      `json:"startArrowhead,omitempty"`
	EndArrowhead   *string      `json:"endArrowhead,omitempty"`
}

// IsBox reports whether the element takes part in overlap checks.
func (e Element) IsBox() bool { return e.Type != Text && e.Type != Arrow }

// Box returns the element's bounding box.
func (e Element) Box() Rect { return Rect{X: e.X, Y: e.Y, W: e.Width, H: e.Height} }

// IsLabelOf reports whether e is the text bound to the container with the given id.
func (e Element) IsLabelOf(containerID string) bool {
	return e.Type == Text && e.ContainerID != nil && *e.ContainerID == containerID
}

// LabelID returns the id of the text bound to this element, if any.
func (e Element) LabelID() (string, bool) {
	for _, b := range e.BoundElements {
		if b.Type == string(Text) {
			return b.ID, true
		}
	}
	return "", false
}

// Rect is an axis-aligned box.
type Rect struct {
	X, Y, W, H float64
}

// Overlaps reports whether the gap between r and o is smaller than margin on both axes.
func (r Rect) Overlaps(o Rect, margin float64) bool {
	return r.X < o.X+o.W+margin && o.X < r.X+r.W+margin &&
		r.Y < o.Y+o.H+margin && o.Y < r.Y+r.H+margin
}

// InBounds reports whether the whole box lies inside the coordinate limits.
func (r Rect) InBounds() bool {
	return r.X >= CoordMin && r.Y >= CoordMin && r.X+r.W <= CoordMax && r.Y+r.H <= CoordMax
}

// clamp shifts r the least distance that brings it inside the coordinate range.
// A box larger than the range stays pinned to the minimum corner.
func (r Rect) clamp() Rect {
	r.X = max(min(r.X, CoordMax-r.W), CoordMin)
	r.Y = max(min(r.Y, CoordMax-r.H), CoordMin)
	return r
}

// Patch is a proposed set of changes to a scene.
type Patch struct {
	Adds    []ElementSpec   `json:"adds,omitempty" validate:"dive"`
	Updates []ElementUpdate `json:"updates,omitempty" validate:"dive"`
	Deletes []string        `json:"deletes,omitempty"`
	Label   string          `json:"label,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return len(p.Adds) == 0 && len(p.Updates) == 0 && len(p.Deletes) == 0
}

// ElementSpec is a semantic description of an element to add.
type ElementSpec struct {
	ID         string      `json:"id,omitempty"`
	Type       ElementType `json:"type" validate:"required,oneof=rectangle ellipse diamond arrow text"`
	Text       string      `json:"text,omitempty" validate:"max=120"`
	Layer      Layer       `json:"layer,omitempty" validate:"omitempty,oneof=frontend api service cache data external"`
	ConnectsTo []string    `json:"connectsTo,omitempty"`
	X          *float64    `json:"x,omitempty" validate:"omitempty,gte=-5000,lte=5000"`
	Y          *float64    `json:"y,omitempty" validate:"omitempty,gte=-5000,lte=5000"`
	Width      *float64    `json:"width,omitempty" validate:"omitempty,gt=0,lte=2000"`
	Height     *float64    `json:"height,omitempty" validate:"omitempty,gt=0,lte=2000"`
}

// ElementUpdate overwrites the present fields of an existing element.
type ElementUpdate struct {
	ID              string      `json:"id" validate:"required"`
	Type            ElementType `json:"type,omitempty" validate:"omitempty,oneof=rectangle ellipse diamond arrow text"`
	Text            *string     `json:"text,omitempty" validate:"omitempty,max=120"`
	X               *float64    `json:"x,omitempty" validate:"omitempty,gte=-5000,lte=5000"`
	Y               *float64    `json:"y,omitempty" validate:"omitempty,gte=-5000,lte=5000"`
	Width           *float64    `json:"width,omitempty" validate:"omitempty,gt=0,lte=2000"`
	Height          *float64    `json:"height,omitempty" validate:"omitempty,gt=0,lte=2000"`
	StrokeColor     *string     `json:"strokeColor,omitempty"`
	BackgroundColor *string     `json:"backgroundColor,omitempty"`
}

// Document is the Excalidraw file envelope served to clients.
type Document struct {
	Type     string          `json:"type"`
	Version  int             `json:"version"`
	Source   string          `json:"source"`
	Elements []Element       `json:"elements"`
	AppState AppState        `json:"appState"`
	Files    json.RawMessage `json:"files"`
}

// AppState is the subset of Excalidraw app state the engine sets.
type AppState struct {
	GridSize            *int   `json:"gridSize"`
	ViewBackgroundColor string `json:"viewBackgroundColor"`
}

// NewDocument wraps elements in an Excalidraw envelope. A nil slice yields an empty scene.
func NewDocument(elements []Element) Document {
	if elements == nil {
		elements = []Element{}
	}
	return Document{
		Type:     "excalidraw",
		Version:  2,
		Source:   "https://excalidraw.com",
		Elements: elements,
		AppState: AppState{ViewBackgroundColor: "#ffffff"},
		Files:    json.RawMessage(`{}`),
	}
}

// Clone returns a deep copy of the slice so callers can mutate it freely.
func Clone(elements []Element) []Element {
	out := make([]Element, len(elements))
	for i, e := range elements {
		out[i] = e.clone()
	}
	return out
}

func (e Element) clone() Element {
	c := e
	if e.GroupIDs != nil {
		c.GroupIDs = append([]string{}, e.GroupIDs...)
	}
	if e.BoundElements != nil {
		c.BoundElements = append([]BoundElement{}, e.BoundElements...)
	}
	if e.Points != nil {
		c.Points = append([][2]float64{}, e.Points...)
	}
	if e.Roundness != nil {
		r := *e.Roundness
		c.Roundness = &r
	}
	if e.ContainerID != nil {
		s := *e.ContainerID
		c.ContainerID = &s
	}
	if e.CustomData != nil {
		m := *e.CustomData
		c.CustomData = &m
	}
	return c
}
