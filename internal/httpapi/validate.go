package httpapi

import (
	"errors"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"warden.dev/internal/auth"
)

type fieldError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

const strongPasswordMessage = "Password must contain at least 1 uppercase, 1 lowercase, a number, a special character, and minimum of 8 characters"

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("strongpassword", func(fl validator.FieldLevel) bool {
		return strongPassword(fl.Field().String())
	})
	_ = v.RegisterValidation("bcryptlen", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= auth.MaxPasswordBytes
	})
	return v
}

// strongPassword requires 8+ characters with an upper, a lower, a digit and a symbol.
func strongPassword(s string) bool {
	if len([]rune(s)) < 8 {
		return false
	}
	var upper, lower, digit, symbol bool
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	return upper && lower && digit && symbol
}

func (a *API) validate(v any) []fieldError {
	err := a.validator.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []fieldError{{Message: err.Error()}}
	}
	out := make([]fieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fieldError{Field: fe.Field(), Message: describe(fe)})
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return "email must be an email"
	case "strongpassword":
		return strongPasswordMessage
	case "max":
		return fe.Field() + " is too long"
	case "bcryptlen":
		return fe.Field() + " must be at most 72 bytes"
	default:
		return fe.Field() + " is invalid"
	}
}
