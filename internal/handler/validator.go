package handler

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// StructValidator plugs go-playground/validator into Fiber's binder.
type StructValidator struct {
	once     sync.Once
	validate *validator.Validate
}

// NewStructValidator returns a validator for fiber.Config.StructValidator.
func NewStructValidator() *StructValidator {
	return &StructValidator{}
}

// Validate checks the `validate` struct tags of out. Non-struct values pass.
func (v *StructValidator) Validate(out any) error {
	if kindOf(out) != reflect.Struct {
		return nil
	}
	v.lazyinit()

	err := v.validate.Struct(out)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Field(), fe.Tag()))
		}
		return errors.New(strings.Join(msgs, "; "))
	}
	return err
}

func (v *StructValidator) lazyinit() {
	v.once.Do(func() {
		v.validate = validator.New(validator.WithRequiredStructEnabled())
		// report json names instead of Go field names
		v.validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
	})
}

func kindOf(data any) reflect.Kind {
	value := reflect.ValueOf(data)
	kind := value.Kind()
	if kind == reflect.Ptr {
		kind = value.Elem().Kind()
	}
	return kind
}
