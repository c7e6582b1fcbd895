package errors

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxGenreNameLength bounds genre identifiers read from a relation table.
const MaxGenreNameLength = 256

// ValidateGenreName validates a genre identifier from the relation table.
//
// Genre names are opaque, so the rules only reject values that cannot be
// round-tripped through the output formats:
//   - No empty names
//   - Valid UTF-8 only
//   - No control characters or null bytes
//   - Maximum length of MaxGenreNameLength bytes
func ValidateGenreName(name string) error {
	if strings.TrimSpace(name) == "" {
		return New(ErrCodeInvalidGenre, "genre name cannot be empty")
	}

	if len(name) > MaxGenreNameLength {
		return New(ErrCodeInvalidGenre, "genre name too long (max %d characters)", MaxGenreNameLength)
	}

	if !utf8.ValidString(name) {
		return New(ErrCodeInvalidGenre, "genre name is not valid UTF-8: %q", name)
	}

	for _, r := range name {
		if unicode.IsControl(r) {
			return New(ErrCodeInvalidGenre, "genre name contains invalid control characters: %q", name)
		}
	}

	return nil
}

// ValidateTopK validates the popularity cutoff.
// Zero means "use the default" and is accepted; negative values are not.
func ValidateTopK(k int) error {
	if k < 0 {
		return New(ErrCodeInvalidConfig, "top-k must not be negative (got %d)", k)
	}
	return nil
}

// ValidateURI validates a backend connection URI.
// It ensures the URI uses one of the given schemes.
func ValidateURI(rawURI string, schemes ...string) error {
	if rawURI == "" {
		return New(ErrCodeInvalidConfig, "URI cannot be empty")
	}

	for _, s := range schemes {
		if strings.HasPrefix(rawURI, s+"://") {
			return nil
		}
	}

	return New(ErrCodeInvalidConfig, "URI %q must use one of the schemes: %s", redact(rawURI), strings.Join(schemes, ", "))
}

// redact strips userinfo from a URI so credentials never reach error messages.
func redact(uri string) string {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		if i := strings.LastIndex(uri, "@"); i >= 0 {
			return "***" + uri[i:]
		}
		return uri
	}
	if i := strings.LastIndex(rest, "@"); i >= 0 {
		return scheme + "://***" + rest[i:]
	}
	return uri
}
