package core

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"membergate/internal/types"
)

// Validator wraps go-playground/validator and converts failures into
// validation AppErrors.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator.
func NewValidator(logger *slog.Logger) *Validator {
	return &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// ValidateStruct checks v against its validate tags. The first failing
// field is reported; details list every failing field.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return types.NewAppError(types.ErrCodeValidationInvalidPayload, "invalid request", err)
	}

	fields := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		fields[strings.ToLower(fe.Field())] = fe.Tag()
	}

	first := verrs[0]
	code := types.ErrCodeValidationInvalidPayload
	switch first.Tag() {
	case "required":
		code = types.ErrCodeValidationMissingField
	case "url", "http_url":
		code = types.ErrCodeValidationInvalidURL
	}
	return types.NewAppErrorWithDetails(code,
		fmt.Sprintf("field %s failed %q validation", strings.ToLower(first.Field()), first.Tag()),
		err, map[string]any{"fields": fields})
}
