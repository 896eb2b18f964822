package validation

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Validator checks API request structs against their `validate` tags.
//
// Supported rules:
//
//	required   field must not be the zero value
//	hex=N      string must be N bytes of hex (2N digits); empty passes unless required
//	oneof=a b  string must be one of the space separated values
//	max=N      integer must not exceed N
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates a struct
func (v *Validator) Validate(s interface{}) error {
	val := reflect.ValueOf(s)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return fmt.Errorf("validate expects a struct")
	}

	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		fieldType := typ.Field(i)
		tag := fieldType.Tag.Get("validate")
		if tag == "" {
			continue
		}
		if err := v.validateField(val.Field(i), tag); err != nil {
			return fmt.Errorf("%s: %w", fieldName(fieldType), err)
		}
	}
	return nil
}

func fieldName(f reflect.StructField) string {
	if name, _, _ := strings.Cut(f.Tag.Get("json"), ","); name != "" && name != "-" {
		return name
	}
	return f.Name
}

func (v *Validator) validateField(field reflect.Value, tag string) error {
	for _, rule := range strings.Split(tag, ",") {
		name, arg, _ := strings.Cut(rule, "=")

		if field.Kind() == reflect.Ptr {
			if field.IsNil() {
				if name == "required" {
					return fmt.Errorf("field is required")
				}
				continue
			}
			field = field.Elem()
		}

		switch name {
		case "required":
			if field.IsZero() {
				return fmt.Errorf("field is required")
			}

		case "hex":
			n, err := strconv.Atoi(arg)
			if err != nil || field.Kind() != reflect.String {
				return fmt.Errorf("bad hex rule %q", rule)
			}
			s := field.String()
			if s == "" {
				continue
			}
			b, err := hex.DecodeString(s)
			if err != nil {
				return fmt.Errorf("invalid hex: %w", err)
			}
			if len(b) != n {
				return fmt.Errorf("expected %d bytes, got %d", n, len(b))
			}

		case "oneof":
			if field.Kind() != reflect.String || field.String() == "" {
				continue
			}
			allowed := strings.Fields(arg)
			ok := false
			for _, a := range allowed {
				if field.String() == a {
					ok = true
					break
				}
			}
			if !ok {
				return fmt.Errorf("must be one of %s", strings.Join(allowed, ", "))
			}

		case "max":
			n, err := strconv.ParseUint(arg, 10, 64)
			if err != nil {
				return fmt.Errorf("bad max rule %q", rule)
			}
			switch field.Kind() {
			case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
				if field.Uint() > n {
					return fmt.Errorf("maximum is %d", n)
				}
			case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
				if field.Int() > int64(n) {
					return fmt.Errorf("maximum is %d", n)
				}
			}
		}
	}
	return nil
}
