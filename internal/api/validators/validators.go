// Package validators holds the request validator shared by the HTTP handlers.
package validators

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	appErr "github.com/arch-studio/engine/pkg/errors"
)

var (
	once     sync.Once
	instance *validator.Validate
)

// New returns the process-wide validator. Field names in errors follow json tags.
func New() *validator.Validate {
	once.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
		instance = v
	})
	return instance
}

// Check validates s and converts failures into an invalid AppError naming the first field.
func Check(s any) error {
	err := New().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return appErr.Wrap(err, appErr.CodeInvalid, "invalid request")
	}
	fe := verrs[0]
	msg := fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag())
	if fe.Param() != "" {
		msg += "=" + fe.Param()
	}
	return appErr.New(appErr.CodeInvalid, msg).WithMeta("field", fe.Field())
}
