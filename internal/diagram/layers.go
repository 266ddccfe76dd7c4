package diagram

import "strings"

// Canonical top-to-bottom layer order.
var layerOrder = []Layer{LayerFrontend, LayerAPI, LayerService, LayerCache, LayerData, LayerExternal}

// layerBands holds the base y of each layer. Cache shares the service band.
var layerBands = map[Layer]float64{
	LayerFrontend: 100,
	LayerAPI:      250,
	LayerService:  400,
	LayerCache:    400,
	LayerData:     550,
	LayerExternal: 700,
}

// BandY returns the base y for a layer; unknown layers fall in the service band.
func BandY(l Layer) float64 {
	if y, ok := layerBands[l]; ok {
		return y
	}
	return layerBands[LayerService]
}

var (
	frontendWords = []string{"web", "mobile", "client", "ui", "frontend"}
	apiWords      = []string{"gateway", "api", "load balancer", "proxy", "nginx"}
	dataWords     = []string{"database", "db", "storage", "postgres", "mongo", "mysql", "sql"}
	cacheWords    = []string{"cache", "redis", "memcached"}
	externalWords = []string{"cdn", "s3", "external", "third party", "aws", "cloud"}
	queueWords    = []string{"queue", "kafka", "message", "event"}
)

// InferLayer picks a layer from the element's text and type when none was declared.
// Checks run in a fixed order, so "API database" lands in api.
func InferLayer(t ElementType, text string) Layer {
	s := strings.ToLower(text)
	switch {
	case containsAny(s, frontendWords):
		return LayerFrontend
	case containsAny(s, apiWords):
		return LayerAPI
	case t == Ellipse || containsAny(s, dataWords):
		return LayerData
	case containsAny(s, cacheWords):
		return LayerCache
	case containsAny(s, externalWords), strings.Contains(s, "payment") && strings.Contains(s, "service"):
		return LayerExternal
	case t == Diamond || containsAny(s, queueWords):
		return LayerService
	}
	return LayerService
}

// LayerOf returns the declared layer or the inferred one.
func LayerOf(spec ElementSpec) Layer {
	if spec.Layer != "" {
		return spec.Layer
	}
	return InferLayer(spec.Type, spec.Text)
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// defaultSize is the footprint used when a spec gives no explicit size.
func defaultSize(t ElementType) (w, h float64) {
	switch t {
	case Rectangle:
		return 140, 80
	case Ellipse:
		return 120, 60
	case Diamond:
		return 100, 80
	case Text:
		return 100, 30
	}
	return 100, 60
}
