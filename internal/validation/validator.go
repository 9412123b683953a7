package validation

import (
    "fmt"
    "reflect"
    "strconv"
    "strings"
)

// Validator validates request structs using `validate` tags.
// Supported rules: required, oneof=a b c, max=N (string length).
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
        field := val.Field(i)
        fieldType := typ.Field(i)
        tag := fieldType.Tag.Get("validate")

        if tag == "" {
            continue
        }

        if err := v.validateField(field, tag); err != nil {
            return fmt.Errorf("%s: %w", fieldName(fieldType), err)
        }
    }

    return nil
}

// validateField validates a single field
func (v *Validator) validateField(field reflect.Value, tag string) error {
    rules := strings.Split(tag, ",")

    for _, rule := range rules {
        parts := strings.SplitN(rule, "=", 2)
        ruleName := parts[0]

        switch ruleName {
        case "required":
            if field.IsZero() {
                return fmt.Errorf("field is required")
            }

        case "oneof":
            if len(parts) < 2 || field.Kind() != reflect.String {
                continue
            }
            value := field.String()
            if value == "" {
                continue
            }
            allowed := strings.Fields(parts[1])
            if !contains(allowed, value) {
                return fmt.Errorf("must be one of %s", strings.Join(allowed, ", "))
            }

        case "max":
            if len(parts) < 2 || field.Kind() != reflect.String {
                continue
            }
            n, err := strconv.Atoi(parts[1])
            if err != nil {
                return fmt.Errorf("bad max rule %q", parts[1])
            }
            if len(field.String()) > n {
                return fmt.Errorf("maximum length is %d", n)
            }
        }
    }

    return nil
}

// fieldName prefers the json name so errors match the request body
func fieldName(f reflect.StructField) string {
    if name := strings.Split(f.Tag.Get("json"), ",")[0]; name != "" && name != "-" {
        return name
    }
    return f.Name
}

func contains(list []string, s string) bool {
    for _, item := range list {
        if item == s {
            return true
        }
    }
    return false
}
