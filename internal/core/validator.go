package core

import (
	"log/slog"
	"regexp"

	"github.com/go-playground/validator/v10"

	"duepoint/internal/types"
)

// phonePattern matches E.164-style numbers with an optional leading plus:
// 8 to 15 digits total.
var phonePattern = regexp.MustCompile(`^\+?[1-9][0-9]{7,14}$`)

// clockPattern matches a 24h "HH:MM" time of day.
var clockPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// Validator wraps go-playground/validator with the platform's custom rules.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator and registers the custom tags:
//
//	phone_e164  - recipient phone numbers
//	clock_hhmm  - automation rule time of day
//	target_kind - client|subscriber audience selector
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New()

	// Registration of static patterns cannot fail; errors here would mean a
	// programming mistake, so they are ignored like the library examples do.
	_ = v.RegisterValidation("phone_e164", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("clock_hhmm", func(fl validator.FieldLevel) bool {
		return clockPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("target_kind", func(fl validator.FieldLevel) bool {
		return types.TargetKind(fl.Field().String()).Valid()
	})

	return &Validator{validate: v, logger: logger}
}

// ValidateStruct validates dst against its struct tags and translates the
// first failure into a 400 AppError with field details.
func (v *Validator) ValidateStruct(dst any) error {
	err := v.validate.Struct(dst)
	if err == nil {
		return nil
	}

	if invalid, ok := err.(*validator.InvalidValidationError); ok {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation could not run", invalid)
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return types.NewAppError(types.ErrCodeValidationMissingField, "request validation failed", err)
	}

	first := verrs[0]
	return types.NewAppErrorWithDetails(
		codeForTag(first.Tag()),
		"invalid value for field "+first.Field(),
		err,
		map[string]any{
			"field": first.Field(),
			"rule":  first.Tag(),
		},
	)
}

func codeForTag(tag string) types.ErrorCode {
	switch tag {
	case "required":
		return types.ErrCodeValidationMissingField
	case "phone_e164":
		return types.ErrCodeValidationInvalidPhone
	case "clock_hhmm":
		return types.ErrCodeValidationInvalidTime
	case "target_kind":
		return types.ErrCodeValidationInvalidKind
	default:
		return types.ErrCodeValidationMissingField
	}
}
