package validator

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validator validates request structs via `validate` tags.
type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	return &Validator{v: v}
}

func (val *Validator) Validate(obj interface{}) error {
	if err := val.v.Struct(obj); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			e := errs[0]
			return fmt.Errorf("field %s failed on %s", e.Field(), e.Tag())
		}
		return err
	}
	return nil
}

func (val *Validator) Var(field interface{}, rules string) error {
	return val.v.Var(field, rules)
}
