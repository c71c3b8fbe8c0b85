// Package validation provides struct-tag validation for KVLite's
// open-time configuration, plus the ConfigValidator fluent helper in
// config.go for the domain checks struct tags alone can't express.
package validation

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// maxBlockKVPairsBound caps how many records a data block may hold;
// block scans are linear, so the count must stay small.
const maxBlockKVPairsBound = 1024

// validate is a singleton validator instance, built once and reused for
// every Options value KVLite opens with.
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Options mirrors kvlite.Options' validated fields. A separate type so
// the validation package stays importable, and unit-testable, without
// pulling in the whole engine.
type Options struct {
	Path                    string `validate:"required"`
	WriteBufferSize         int64  `validate:"gt=0"`
	L0FilesThreshold        int    `validate:"gt=0"`
	NumLevel0TableToCompact int    `validate:"gt=0,lte=64"`
	MaxBlockKVPairs         int    `validate:"gt=0"`
}

// ValidateOptions runs struct-tag validation over o, then the domain
// checks tags can't express, returning the first failure as a readable
// error, or nil if o is well-formed.
func ValidateOptions(o *Options) error {
	if o == nil {
		return errors.New("options cannot be nil")
	}
	if err := validate.Struct(o); err != nil {
		return formatValidationError(err)
	}
	return NewConfigValidator("Options").
		PowerOfTwo("MaxBlockKVPairs", o.MaxBlockKVPairs).
		MaxInt("MaxBlockKVPairs", o.MaxBlockKVPairs, maxBlockKVPairsBound).
		Validate()
}

// formatValidationError converts the first validator.ValidationErrors
// entry into a one-line, field-qualified message.
func formatValidationError(err error) error {
	if err == nil {
		return nil
	}
	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	for _, e := range validationErrs {
		field := e.Field()
		tag := e.Tag()
		param := e.Param()
		switch tag {
		case "required":
			return fmt.Errorf("%s: field is required", field)
		case "gt":
			return fmt.Errorf("%s: must be greater than %s", field, param)
		case "lte":
			return fmt.Errorf("%s: must not exceed %s", field, param)
		default:
			return fmt.Errorf("%s: validation failed (%s)", field, tag)
		}
	}
	return err
}
