package middleware

import (
	stderrors "errors"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/medication-api/pkg/httputil"
	appvalidator "github.com/jwalitptl/medication-api/pkg/validator"
)

// ValidationConfig represents validation middleware configuration
type ValidationConfig struct {
	CustomErrorMessages map[string]string
}

func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		CustomErrorMessages: map[string]string{
			"required":  "Field is required",
			"min":       "Value is too small",
			"max":       "Value is too long",
			"oneof":     "Value is not allowed",
			"timeofday": "Value must be HH:MM or h:MM AM/PM",
		},
	}
}

// Validation registers the custom rules with gin's binding engine and turns
// binding failures attached with c.Error into a 400 listing each field.
func Validation(config ValidationConfig) gin.HandlerFunc {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		if err := appvalidator.RegisterCustom(v); err != nil {
			panic(err)
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return fld.Name
			}
			return name
		})
	}

	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		var fields []httputil.FieldError
		for _, e := range c.Errors {
			var errs validator.ValidationErrors
			if !stderrors.As(e.Err, &errs) {
				continue
			}
			for _, fe := range errs {
				msg := config.CustomErrorMessages[fe.Tag()]
				if msg == "" {
					msg = fe.Error()
				}
				fields = append(fields, httputil.FieldError{
					Field:   fe.Field(),
					Message: msg,
				})
			}
		}

		if len(fields) > 0 {
			httputil.RespondWithFieldErrors(c, fields)
		}
	}
}
