package core

import (
	"log/slog"

	"github.com/go-playground/validator/v10"

	"cropsense/internal/types"
)

// Validator wraps go-playground/validator so handlers translate struct-tag
// violations into AppError details without touching the library directly.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a new Validator.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		validate: validator.New(),
		logger:   logger,
	}
}

// ValidateStruct validates a request DTO. On failure it returns a 400-class
// AppError whose details map field names to the violated rule.
func (v *Validator) ValidateStruct(dst interface{}) error {
	err := v.validate.Struct(dst)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return types.NewAppError(types.ErrCodeValidationInvalidBody, "request failed validation", err)
	}

	details := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = fe.Tag()
	}

	return (&types.AppError{
		Code:    types.ErrCodeValidationMissingField,
		Message: "request failed validation",
		Details: details,
	})
}

// ValidateCoordinates checks a latitude/longitude pair, returning field-level
// AppErrors that map directly to 400 responses.
func (v *Validator) ValidateCoordinates(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return types.NewAppError(types.ErrCodeValidationInvalidLat, "latitude must be within [-90, 90]", nil)
	}
	if lon < -180 || lon > 180 {
		return types.NewAppError(types.ErrCodeValidationInvalidLon, "longitude must be within [-180, 180]", nil)
	}
	return nil
}
