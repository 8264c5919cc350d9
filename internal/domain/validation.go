package domain

import (
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"
)

// validatorInstance is a package-level validator instance.
// Using a single instance is more efficient as it caches struct information.
var validatorInstance = validator.New()

func init() {
	// trimmed rejects values with leading or trailing whitespace.
	_ = validatorInstance.RegisterValidation("trimmed", validateTrimmed)
}

func validateTrimmed(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return s == strings.TrimSpace(s)
}

// Validator exposes the shared validator so other packages validate with the
// same custom rules registered.
func Validator() *validator.Validate {
	return validatorInstance
}

// NormalizeText returns s in Unicode NFC form with surrounding whitespace removed.
func NormalizeText(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}

// Truncate shortens s to at most limit runes, ending it with an ellipsis when cut.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	if limit == 1 {
		return "…"
	}
	return strings.TrimSpace(string(runes[:limit-1])) + "…"
}
