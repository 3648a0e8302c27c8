package validation

import (
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"

	"recollector/api/models"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseOptions builds generation options from form or query values. Absent
// fields keep their defaults.
func ParseOptions(get func(key string) string) (models.Options, error) {
	opts := models.DefaultOptions()

	flags := []struct {
		key  string
		dest *bool
	}{
		{"enable_pbr", &opts.EnablePBR},
		{"should_remesh", &opts.ShouldRemesh},
		{"should_texture", &opts.ShouldTexture},
	}
	for _, f := range flags {
		raw := get(f.key)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return opts, fmt.Errorf("%w: %s must be a boolean", ErrInvalidOptions, f.key)
		}
		*f.dest = v
	}

	if model := get("ai_model"); model != "" {
		opts.AIModel = model
	}

	if err := validate.Struct(opts); err != nil {
		return opts, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}

	return opts, nil
}

func ValidateEmail(email string) error {
	if err := validate.Var(email, "required,email"); err != nil {
		return ErrInvalidEmail
	}
	return nil
}
