package dto

import (
	"regexp"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var divisionCodePattern = regexp.MustCompile(`^[A-Z]{2,4}$`)

// RegisterValidators installs the custom binding validations used by the
// request payloads. Call once at startup.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	return v.RegisterValidation("divisioncode", func(fl validator.FieldLevel) bool {
		return divisionCodePattern.MatchString(fl.Field().String())
	})
}
