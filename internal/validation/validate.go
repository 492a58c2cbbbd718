// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})

	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	if err := v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return IsValidPhone(fl.Field().String())
	}); err != nil {
		panic(err)
	}

	return v
}

// Error перечисляет поля, не прошедшие проверку, с именем нарушенного правила.
type Error struct {
	Fields map[string]string
}

func (e *Error) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name, rule := range e.Fields {
		names = append(names, name+" ("+rule+")")
	}
	sort.Strings(names)
	return "invalid fields: " + strings.Join(names, ", ")
}

// Struct проверяет структуру по тегам validate. Нарушения возвращаются как *Error.
func Struct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate: %w", err)
	}

	e := &Error{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		e.Fields[fe.Field()] = fe.Tag()
	}
	return e
}

// IsValidPhone проверяет номер телефона: необязательный ведущий +, от 7 до 15 цифр,
// допускаются пробелы, дефисы и скобки между цифрами.
func IsValidPhone(phone string) bool {
	phone = strings.TrimSpace(phone)
	phone = strings.TrimPrefix(phone, "+")

	digits := 0
	for _, ch := range phone {
		switch {
		case unicode.IsDigit(ch) && ch < unicode.MaxASCII:
			digits++
		case ch == ' ' || ch == '-' || ch == '(' || ch == ')':
		default:
			return false
		}
	}
	return digits >= 7 && digits <= 15
}
