package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	playground "github.com/go-playground/validator/v10"

	apperrors "github.com/jwalitptl/medication-api/pkg/errors"
	"github.com/jwalitptl/medication-api/pkg/timeofday"
)

// Validator provides validation functionality
type Validator interface {
	Validate(interface{}) error
}

type validator struct {
	engine *playground.Validate
}

// New returns a struct validator reading `validate` tags, with the custom
// rules of this module registered.
func New() Validator {
	engine := playground.New()
	engine.RegisterTagNameFunc(jsonFieldName)
	if err := RegisterCustom(engine); err != nil {
		panic(err)
	}
	return &validator{engine: engine}
}

// RegisterCustom adds the module's custom rules to engine. It is shared with the
// gin binding engine so request DTOs and models accept the same values.
func RegisterCustom(engine *playground.Validate) error {
	return engine.RegisterValidation("timeofday", func(fl playground.FieldLevel) bool {
		return timeofday.Valid(fl.Field().String())
	})
}

// Validate checks obj and converts the first failure into a bad-request AppError.
func (v *validator) Validate(obj interface{}) error {
	err := v.engine.Struct(obj)
	if err == nil {
		return nil
	}

	var fieldErrs playground.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return apperrors.NewValidation(fieldPath(fe), describe(fe))
	}
	return apperrors.BadRequest("validation failed", err)
}

func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" || name == "" {
		return fld.Name
	}
	return name
}

// fieldPath drops the root struct name: "Medication.schedule.times[0]" -> "schedule.times[0]".
func fieldPath(fe playground.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe playground.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "timeofday":
		return fmt.Sprintf("%q is not a valid time of day", fe.Value())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte", "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte", "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}
