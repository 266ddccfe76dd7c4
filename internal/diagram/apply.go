package diagram

// Applicator merges patches into element lists.
type Applicator struct {
	formatter   *Formatter
	autoConnect bool
}

func NewApplicator(f *Formatter, autoConnect bool) *Applicator {
	if f == nil {
		f = NewFormatter()
	}
	return &Applicator{formatter: f, autoConnect: autoConnect}
}

// Apply returns current with p merged in: deletes first, then updates, then adds.
// current is never modified. Updates naming unknown ids are ignored.
func (a *Applicator) Apply(current []Element, p Patch) ([]Element, error) {
	out := applyDeletes(Clone(current), p.Deletes)
	out = a.applyUpdates(out, p.Updates)
	if len(p.Adds) == 0 {
		return out, nil
	}

	placement, err := Layout(out, p.Adds, LayoutOptions{AutoConnect: a.autoConnect, NewID: a.formatter.newID})
	if err != nil {
		return nil, err
	}
	return append(out, a.formatter.Format(placement)...), nil
}

func applyDeletes(elements []Element, deletes []string) []Element {
	if len(deletes) == 0 {
		return elements
	}
	gone := make(idSet, len(deletes))
	for _, id := range deletes {
		gone[id] = struct{}{}
	}
	// labels go with their container
	for _, e := range elements {
		if e.Type == Text && e.ContainerID != nil && gone.has(*e.ContainerID) {
			gone[e.ID] = struct{}{}
		}
	}

	kept := elements[:0]
	for _, e := range elements {
		if gone.has(e.ID) {
			continue
		}
		if len(e.BoundElements) > 0 {
			bound := e.BoundElements[:0]
			for _, b := range e.BoundElements {
				if !gone.has(b.ID) {
					bound = append(bound, b)
				}
			}
			if len(bound) == 0 {
				bound = nil
			}
			e.BoundElements = bound
		}
		kept = append(kept, e)
	}
	return kept
}

func (a *Applicator) applyUpdates(elements []Element, updates []ElementUpdate) []Element {
	if len(updates) == 0 {
		return elements
	}
	index := make(map[string]int, len(elements))
	for i, e := range elements {
		index[e.ID] = i
	}

	for _, u := range updates {
		i, ok := index[u.ID]
		if !ok {
			continue
		}
		e := &elements[i]
		wasBox := e.IsBox()
		moved := overwrite(e, u)
		text := u.Text

		switch {
		case !wasBox && e.IsBox():
			detachLabel(elements, index, e)
			// a box shows its text through a bound label
			if text == nil && e.Text != "" {
				carried := e.Text
				text = &carried
			}
			e.Text, e.OriginalText = "", ""
			if u.Width == nil && u.Height == nil {
				e.Width, e.Height = defaultSize(e.Type)
			}
			e.Points, e.StartArrowhead, e.EndArrowhead = nil, nil, nil
		case wasBox && !e.IsBox():
			releaseLabels(elements, index, e)
		}

		if e.IsBox() && (moved || !wasBox) {
			occ := &occupancy{}
			for j, other := range elements {
				if j != i && other.IsBox() {
					occ.add(other.Box())
				}
			}
			if r, ok := occ.settle(e.Box()); ok {
				e.X, e.Y = r.X, r.Y
			}
		}

		if !e.IsBox() {
			continue
		}
		labelID, hasLabel := e.LabelID()
		switch {
		case hasLabel:
			if j, ok := index[labelID]; ok {
				l := &elements[j]
				if text != nil {
					l.Text, l.OriginalText = *text, *text
				}
				r := LabelRect(e.Box(), l.Text)
				l.X, l.Y, l.Width, l.Height = r.X, r.Y, r.W, r.H
			}
		case text != nil && *text != "":
			taken := make(idSet, len(elements))
			for id := range index {
				taken[id] = struct{}{}
			}
			label := a.formatter.Label(e, *text, taken.claim("", a.formatter.newID))
			elements = append(elements, label)
			index[label.ID] = len(elements) - 1
		}
	}
	return elements
}

// detachLabel unbinds e from the container it was a label of.
func detachLabel(elements []Element, index map[string]int, e *Element) {
	if e.ContainerID == nil {
		return
	}
	if j, ok := index[*e.ContainerID]; ok {
		elements[j].BoundElements = withoutBound(elements[j].BoundElements, e.ID)
	}
	e.ContainerID = nil
}

// releaseLabels frees the labels bound to e once e is no longer a box.
func releaseLabels(elements []Element, index map[string]int, e *Element) {
	kept := e.BoundElements[:0]
	for _, b := range e.BoundElements {
		if j, ok := index[b.ID]; ok && elements[j].IsLabelOf(e.ID) {
			elements[j].ContainerID = nil
			continue
		}
		kept = append(kept, b)
	}
	if len(kept) == 0 {
		kept = nil
	}
	e.BoundElements = kept
}

func withoutBound(bound []BoundElement, id string) []BoundElement {
	out := bound[:0]
	for _, b := range bound {
		if b.ID != id {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// overwrite copies the present fields of u onto e and reports whether the box changed.
func overwrite(e *Element, u ElementUpdate) bool {
	before := e.Box()
	if u.Type != "" {
		e.Type = u.Type
	}
	if u.X != nil {
		e.X = *u.X
	}
	if u.Y != nil {
		e.Y = *u.Y
	}
	if u.Width != nil {
		e.Width = *u.Width
	}
	if u.Height != nil {
		e.Height = *u.Height
	}
	if u.StrokeColor != nil {
		e.StrokeColor = *u.StrokeColor
	}
	if u.BackgroundColor != nil {
		e.BackgroundColor = *u.BackgroundColor
	}
	if u.Text != nil && !e.IsBox() {
		e.Text, e.OriginalText = *u.Text, *u.Text
	}
	e.Version++
	return e.Box() != before
}
