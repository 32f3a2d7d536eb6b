package genesis

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// validate holds the settings and caches for validating genesis values.
var validate *validator.Validate

// translator is a cache of locale and translation information.
var translator ut.Translator

func init() {

	// Instantiate a validator.
	validate = validator.New()

	// Create a translator for english so the error messages are
	// more human-readable than technical.
	translator, _ = ut.New(en.New(), en.New()).GetTranslator("en")

	// Register the english error messages for use.
	en_translations.RegisterDefaultTranslations(validate, translator)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// FieldError is used to indicate an error with a specific genesis field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// FieldErrors represents a collection of field errors.
type FieldErrors []FieldError

// Error implements the error interface.
func (fe FieldErrors) Error() string {
	parts := make([]string, len(fe))
	for i, f := range fe {
		parts[i] = fmt.Sprintf("%s: %s", f.Field, f.Error)
	}
	return strings.Join(parts, "; ")
}

// Check validates the provided genesis against its declared tags and the
// relationships between constants that tags can't express.
func Check(g Genesis) error {
	if err := validate.Struct(g); err != nil {
		var verrors validator.ValidationErrors
		if !errors.As(err, &verrors) {
			return err
		}

		var fields FieldErrors
		for _, verror := range verrors {
			fields = append(fields, FieldError{
				Field: verror.Field(),
				Error: verror.Translate(translator),
			})
		}
		return fields
	}

	c := g.Constants
	var fields FieldErrors
	if c.EpochBlocks%c.SubEpochBlocks != 0 {
		fields = append(fields, FieldError{Field: "epoch_blocks", Error: "must be a multiple of sub_epoch_blocks"})
	}
	if c.SubSlotItersStarting%uint64(c.NumSPsSubSlot) != 0 {
		fields = append(fields, FieldError{Field: "sub_slot_iters_starting", Error: "must be a multiple of num_sps_sub_slot"})
	}
	if c.DifficultyConstantFactor.Sign() <= 0 {
		fields = append(fields, FieldError{Field: "difficulty_constant_factor", Error: "must be positive"})
	}
	if len(fields) > 0 {
		return fields
	}

	return nil
}
