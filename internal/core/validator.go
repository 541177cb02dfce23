package core

import (
	"errors"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"pubengine/internal/types"
)

// Validator wraps go-playground/validator and maps validation failures to
// structured AppErrors with per-field details.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

func NewValidator(logger *slog.Logger) *Validator {
	return &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// ValidateStruct validates the struct's `validate` tags. On failure it
// returns an AppError carrying one detail entry per failed field.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation failed", err)
	}

	details := make(map[string]any, len(verrs))
	code := types.ErrCodeValidationInvalidID
	for _, fe := range verrs {
		details[fe.Field()] = fe.Tag()
		if fe.Tag() == "required" {
			code = types.ErrCodeValidationMissingField
		}
	}

	return types.NewAppErrorWithDetails(code, "request validation failed", err, details)
}
