package httpapi

import (
	"github.com/go-playground/validator/v10"
)

// echoValidator adapts go-playground/validator to echo.Validator.
type echoValidator struct {
	v *validator.Validate
}

func newValidator() *echoValidator {
	return &echoValidator{v: validator.New(validator.WithRequiredStructEnabled())}
}

func (ev *echoValidator) Validate(i any) error {
	return ev.v.Struct(i)
}
