package diagram

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	appErr "github.com/arch-studio/engine/pkg/errors"
)

// DefaultMaxElements bounds adds+updates in one patch.
const DefaultMaxElements = 1000

// Validator checks patches before they reach layout or storage.
type Validator struct {
	maxElements int
	v           *validator.Validate
}

// NewValidator returns a Validator that rejects patches with more than maxElements adds+updates.
func NewValidator(maxElements int) *Validator {
	if maxElements <= 0 {
		maxElements = DefaultMaxElements
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{maxElements: maxElements, v: v}
}

// MaxElements returns the configured per-patch limit.
func (v *Validator) MaxElements() int { return v.maxElements }

// Validate returns nil or an invalid-coded AppError whose message names the first problem.
func (v *Validator) Validate(p Patch) error {
	if n := len(p.Adds) + len(p.Updates); n > v.maxElements {
		return appErr.Newf(appErr.CodeInvalid, "Too many elements (max %d)", v.maxElements)
	}
	err := v.v.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return appErr.Wrap(err, appErr.CodeInvalid, "Invalid patch format")
	}
	return appErr.New(appErr.CodeInvalid, reason(verrs[0])).WithMeta("field", fieldPath(verrs[0]))
}

func reason(fe validator.FieldError) string {
	switch fe.Field() {
	case "type":
		return fmt.Sprintf("Invalid element type: %v", fe.Value())
	case "x", "y":
		return "Coordinates out of range"
	case "width", "height":
		return "Invalid element size"
	case "text":
		return "Text too long"
	case "layer":
		return fmt.Sprintf("Invalid layer: %v", fe.Value())
	case "id":
		return "Update is missing an element id"
	}
	return fmt.Sprintf("Invalid value for %s", fieldPath(fe))
}

// fieldPath strips the root struct name: "Patch.adds[0].type" -> "adds[0].type".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

// CheckElements verifies a laid-out scene still satisfies the limits patches are held to.
func CheckElements(elements []Element) error {
	seen := make(map[string]struct{}, len(elements))
	for _, e := range elements {
		if _, dup := seen[e.ID]; dup {
			return appErr.Newf(appErr.CodeInvalid, "Duplicate element ID: %s", e.ID)
		}
		seen[e.ID] = struct{}{}
		switch e.Type {
		case Rectangle, Ellipse, Diamond, Arrow, Text:
		default:
			return appErr.Newf(appErr.CodeInvalid, "Invalid element type: %s", e.Type)
		}
		if e.X < CoordMin || e.X > CoordMax || e.Y < CoordMin || e.Y > CoordMax {
			return appErr.New(appErr.CodeInvalid, "Coordinates out of range")
		}
		if len([]rune(e.Text)) > MaxTextLength {
			return appErr.New(appErr.CodeInvalid, "Text too long")
		}
	}
	return nil
}
