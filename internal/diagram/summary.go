package diagram

import (
	"fmt"
	"math"
	"strings"
)

const (
	summaryPerType   = 3
	summaryTextWidth = 30
)

// Summarize describes a scene compactly for a prompt: per-type counts, the first
// few labelled elements with positions, and the overall bounds.
func Summarize(elements []Element) string {
	if len(elements) == 0 {
		return "No elements present"
	}

	var order []ElementType
	byType := map[ElementType][]Element{}
	for _, e := range elements {
		if _, ok := byType[e.Type]; !ok {
			order = append(order, e.Type)
		}
		byType[e.Type] = append(byType[e.Type], e)
	}

	var b strings.Builder
	for _, t := range order {
		group := byType[t]
		var labelled []string
		for _, e := range group {
			text := strings.TrimSpace(e.Text)
			if text == "" {
				continue
			}
			if len(labelled) == summaryPerType {
				break
			}
			labelled = append(labelled, fmt.Sprintf("%q at (%d,%d)", truncate(text, summaryTextWidth), round(e.X), round(e.Y)))
		}
		if len(labelled) == 0 {
			fmt.Fprintf(&b, "- %d %s(s) (no text)\n", len(group), t)
			continue
		}
		fmt.Fprintf(&b, "- %d %s(s): %s", len(group), t, strings.Join(labelled, ", "))
		if len(group) > summaryPerType {
			fmt.Fprintf(&b, " + %d more", len(group)-summaryPerType)
		}
		b.WriteByte('\n')
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, e := range elements {
		minX, maxX = math.Min(minX, e.X), math.Max(maxX, e.X)
		minY, maxY = math.Min(minY, e.Y), math.Max(maxY, e.Y)
	}
	fmt.Fprintf(&b, "- Layout bounds: (%d,%d) to (%d,%d)\n", round(minX), round(minY), round(maxX), round(maxY))
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func round(f float64) int { return int(math.Round(f)) }
