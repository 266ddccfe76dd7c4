package diagram

import (
	"strings"

	"github.com/google/uuid"

	appErr "github.com/arch-studio/engine/pkg/errors"
)

const (
	canvasWidth = 1000.0
	marginX     = 100.0
	spacing     = 200.0
	rowStep     = 150.0
	// perRow is how many slots of one layer fit across the canvas before wrapping.
	perRow = int((CoordMax-CoordMin)/spacing) - 1
	// Margin is the minimum gap kept between two boxes.
	Margin = 20.0
)

// colOffsets lists horizontal probe offsets: 0, +s, -s, +2s, -2s, ...
// wide enough to sweep the full coordinate range from any start.
var colOffsets = func() []float64 {
	steps := int((CoordMax-CoordMin)/spacing) + 1
	out := []float64{0}
	for i := 1; i <= steps; i++ {
		out = append(out, float64(i)*spacing, -float64(i)*spacing)
	}
	return out
}()

// LayoutOptions tunes Layout.
type LayoutOptions struct {
	// AutoConnect adds the standard frontend -> api -> service -> data flow between new elements.
	AutoConnect bool
	// NewID generates ids for elements whose requested id is missing or taken.
	NewID func() string
}

// Positioned is an add with its final id, layer and box.
type Positioned struct {
	ID    string
	Spec  ElementSpec
	Layer Layer
	Rect  Rect
}

// Connector is an arrow between two boxes, in absolute coordinates.
type Connector struct {
	ID       string
	From, To string
	Start    [2]float64
	End      [2]float64
}

// Placement is the output of Layout.
type Placement struct {
	Elements   []Positioned
	Connectors []Connector
	// IDs maps each requested id to the id actually assigned.
	IDs map[string]string

	taken idSet
	newID func() string
}

type idSet map[string]struct{}

func (s idSet) has(id string) bool { _, ok := s[id]; return ok }

func (s idSet) claim(want string, gen func() string) string {
	id := want
	for id == "" || s.has(id) {
		id = gen()
	}
	s[id] = struct{}{}
	return id
}

// occupancy is the set of boxes new and moved elements must keep clear of.
type occupancy struct {
	boxes []Rect
}

func (o *occupancy) free(r Rect) bool {
	for _, b := range o.boxes {
		if r.Overlaps(b, Margin) {
			return false
		}
	}
	return true
}

func (o *occupancy) add(r Rect) { o.boxes = append(o.boxes, r) }

// settle returns the first free in-bounds box reachable from r: same row probing right
// then left, then rows below, then rows above. The search space is finite.
func (o *occupancy) settle(r Rect) (Rect, bool) {
	r = r.clamp()
	for _, dy := range rowOffsets(r) {
		for _, dx := range colOffsets {
			c := Rect{X: r.X + dx, Y: r.Y + dy, W: r.W, H: r.H}
			if !c.InBounds() {
				continue
			}
			if o.free(c) {
				return c, true
			}
		}
	}
	return r, false
}

// slotRect is the preferred box for the slot-th of n adds in layer l. Slots are
// centred on the canvas and wrap onto rows below the band once a row is full.
func slotRect(l Layer, slot, n int, w, h float64) Rect {
	cols := min(n, perRow)
	rowWidth := float64(cols) * spacing
	startX := marginX + (canvasWidth-rowWidth)/2
	startX = max(min(startX, CoordMax-rowWidth), CoordMin)
	return Rect{
		X: startX + float64(slot%perRow)*spacing,
		Y: BandY(l) + float64(slot/perRow)*rowStep,
		W: w,
		H: h,
	}
}

func rowOffsets(r Rect) []float64 {
	var out []float64
	for k := 0; r.Y+float64(k)*rowStep+r.H <= CoordMax; k++ {
		out = append(out, float64(k)*rowStep)
	}
	for k := 1; r.Y-float64(k)*rowStep >= CoordMin; k++ {
		out = append(out, -float64(k)*rowStep)
	}
	return out
}

func errNoSpace(id string) error {
	return appErr.New(appErr.CodeInvalid, "No free space left on the canvas").WithMeta("element", id)
}

// isConnectorSpec reports whether an arrow add names both of its endpoints.
func isConnectorSpec(s ElementSpec) bool {
	return s.Type == Arrow && len(s.ConnectsTo) >= 2
}

func hasExplicitPosition(s ElementSpec) bool { return s.X != nil && s.Y != nil }

func specSize(s ElementSpec) (float64, float64) {
	w, h := defaultSize(s.Type)
	if s.Width != nil {
		w = *s.Width
	}
	if s.Height != nil {
		h = *s.Height
	}
	return w, h
}

// Layout places adds on the canvas around the existing elements.
// Positions depend only on existing and the order of adds.
func Layout(existing []Element, adds []ElementSpec, opts LayoutOptions) (Placement, error) {
	gen := opts.NewID
	if gen == nil {
		gen = uuid.NewString
	}

	taken := make(idSet, len(existing)+len(adds))
	occ := &occupancy{}
	boxes := make(map[string]Rect, len(existing)+len(adds))
	for _, e := range existing {
		taken[e.ID] = struct{}{}
		if e.IsBox() {
			occ.add(e.Box())
			boxes[e.ID] = e.Box()
		}
	}

	p := Placement{IDs: map[string]string{}, taken: taken, newID: gen}
	ids := make([]string, len(adds))
	for i, s := range adds {
		ids[i] = taken.claim(s.ID, gen)
		if s.ID != "" {
			if _, seen := p.IDs[s.ID]; !seen {
				p.IDs[s.ID] = ids[i]
			}
		}
	}

	layers := make([]Layer, len(adds))
	byLayer := map[Layer][]int{}
	for i, s := range adds {
		layers[i] = LayerOf(s)
		if isConnectorSpec(s) {
			continue
		}
		byLayer[layers[i]] = append(byLayer[layers[i]], i)
	}

	placed := make(map[int]Rect, len(adds))
	for _, l := range layerOrder {
		idx := byLayer[l]
		if len(idx) == 0 {
			continue
		}
		for slot, i := range idx {
			s := adds[i]
			w, h := specSize(s)
			r := slotRect(l, slot, len(idx), w, h)
			if hasExplicitPosition(s) {
				r.X, r.Y = *s.X, *s.Y
				if !s.Type.IsShape() {
					placed[i] = r
					continue
				}
			}
			got, ok := occ.settle(r)
			if !ok {
				return Placement{}, errNoSpace(ids[i])
			}
			placed[i] = got
			if s.Type.IsShape() {
				occ.add(got)
				boxes[ids[i]] = got
			}
		}
	}

	for i, s := range adds {
		r, ok := placed[i]
		if !ok {
			continue
		}
		p.Elements = append(p.Elements, Positioned{ID: ids[i], Spec: s, Layer: layers[i], Rect: r})
	}

	p.Connectors = connect(existing, adds, ids, layers, p.IDs, boxes, opts.AutoConnect, taken, gen)
	return p, nil
}

type link struct {
	from, to string
	id       string
}

func connect(existing []Element, adds []ElementSpec, ids []string, layers []Layer, idMap map[string]string, boxes map[string]Rect, auto bool, taken idSet, gen func() string) []Connector {
	resolve := func(ref string) (string, bool) {
		if id, ok := idMap[ref]; ok {
			_, isBox := boxes[id]
			return id, isBox
		}
		_, isBox := boxes[ref]
		return ref, isBox
	}

	var links []link
	for i, s := range adds {
		if isConnectorSpec(s) {
			from, ok1 := resolve(s.ConnectsTo[0])
			to, ok2 := resolve(s.ConnectsTo[1])
			if ok1 && ok2 {
				links = append(links, link{from: from, to: to, id: ids[i]})
			}
			continue
		}
		if !s.Type.IsShape() {
			continue
		}
		for _, ref := range s.ConnectsTo {
			if to, ok := resolve(ref); ok {
				links = append(links, link{from: ids[i], to: to})
			}
		}
	}
	if auto {
		links = append(links, autoLinks(adds, ids, layers)...)
	}

	seen := idSet{}
	for _, e := range existing {
		if e.Type == Arrow {
			seen[e.ID] = struct{}{}
		}
	}
	var out []Connector
	for _, l := range links {
		if l.from == l.to {
			continue
		}
		id := l.id
		if id == "" {
			id = "arrow_" + l.from + "_to_" + l.to
			if seen.has(id) {
				continue
			}
			seen[id] = struct{}{}
			// a non-arrow element already owns the name
			id = taken.claim(id, gen)
		} else if seen.has(id) {
			continue
		}
		seen[id] = struct{}{}
		start, end := anchors(boxes[l.from], boxes[l.to])
		out = append(out, Connector{ID: id, From: l.from, To: l.to, Start: start, End: end})
	}
	return out
}

var flow = []Layer{LayerFrontend, LayerAPI, LayerService, LayerData}

func autoLinks(adds []ElementSpec, ids []string, layers []Layer) []link {
	first := map[Layer]int{}
	var services, externals []int
	for i, s := range adds {
		if !s.Type.IsShape() {
			continue
		}
		if _, ok := first[layers[i]]; !ok {
			first[layers[i]] = i
		}
		switch layers[i] {
		case LayerService:
			services = append(services, i)
		case LayerExternal:
			externals = append(externals, i)
		}
	}

	var out []link
	for k := 0; k < len(flow)-1; k++ {
		a, okA := first[flow[k]]
		b, okB := first[flow[k+1]]
		if okA && okB {
			out = append(out, link{from: ids[a], to: ids[b]})
		}
	}
	for _, s := range services {
		svc := strings.ToLower(adds[s].Text)
		for _, e := range externals {
			ext := strings.ToLower(adds[e].Text)
			if strings.Contains(ext, "cdn") || strings.Contains(ext, "s3") || (strings.Contains(svc, "media") && strings.Contains(ext, "storage")) {
				out = append(out, link{from: ids[s], to: ids[e]})
			}
		}
	}
	return out
}

// anchors picks facing edges: bottom to top when the target is below,
// top to bottom when above, otherwise side to side.
func anchors(src, dst Rect) (start, end [2]float64) {
	switch {
	case dst.Y >= src.Y+src.H:
		return [2]float64{src.X + src.W/2, src.Y + src.H}, [2]float64{dst.X + dst.W/2, dst.Y}
	case dst.Y+dst.H <= src.Y:
		return [2]float64{src.X + src.W/2, src.Y}, [2]float64{dst.X + dst.W/2, dst.Y + dst.H}
	case dst.X >= src.X:
		return [2]float64{src.X + src.W, src.Y + src.H/2}, [2]float64{dst.X, dst.Y + dst.H/2}
	default:
		return [2]float64{src.X, src.Y + src.H/2}, [2]float64{dst.X + dst.W, dst.Y + dst.H/2}
	}
}
