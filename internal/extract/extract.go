// Package extract pulls the login, destination address and activation
// link out of a raw activation email.
package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// DefaultLinkPattern matches activation links under the club host.
const DefaultLinkPattern = `(https://club[a-z0-9./-]*)\b`

// ExtractionError indicates that a message does not carry the data needed
// to activate an account. It is fatal for that message only.
type ExtractionError struct {
	Field   string
	Message string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction error (%s): %s", e.Field, e.Message)
}

// IsExtractionError reports whether err (or any error in its chain) is an
// ExtractionError.
func IsExtractionError(err error) bool {
	var extErr *ExtractionError
	return errors.As(err, &extErr)
}

// Activation is the data extracted from one activation email.
type Activation struct {
	Login   string
	Address string
	Link    string
}

// Extractor holds the compiled link pattern. It is safe for concurrent use.
type Extractor struct {
	link *regexp.Regexp
}

// New compiles pattern, falling back to DefaultLinkPattern when empty.
func New(pattern string) (*Extractor, error) {
	if strings.TrimSpace(pattern) == "" {
		pattern = DefaultLinkPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling link pattern %q: %w", pattern, err)
	}
	return &Extractor{link: re}, nil
}

// softBreak is a quoted-printable soft line break.
var softBreak = regexp.MustCompile(`=\r?\n`)

// Extract derives (login, address, link) from the TO header value and the
// raw TEXT body part.
func (e *Extractor) Extract(toHeader, body string) (Activation, error) {
	address := ParseAddress(toHeader)
	if address == "" {
		return Activation{}, &ExtractionError{
			Field:   "to",
			Message: "message has no destination address",
		}
	}

	login, _, found := strings.Cut(address, "@")
	if !found || login == "" {
		return Activation{}, &ExtractionError{
			Field:   "to",
			Message: fmt.Sprintf("address %q has no local part", address),
		}
	}

	link := e.link.FindString(softBreak.ReplaceAllString(body, ""))
	if link == "" {
		return Activation{}, &ExtractionError{
			Field:   "body",
			Message: fmt.Sprintf("no activation link for %s", address),
		}
	}

	return Activation{
		Login:   login,
		Address: address,
		Link:    link,
	}, nil
}

// ParseAddress strips a "To:" prefix, angle brackets and surrounding
// whitespace from a header value. Only the first address of a list is kept.
func ParseAddress(header string) string {
	value := strings.TrimSpace(header)
	if len(value) >= 3 && strings.EqualFold(value[:3], "to:") {
		value = strings.TrimSpace(value[3:])
	}
	if first, _, ok := strings.Cut(value, ","); ok {
		value = first
	}
	if start := strings.LastIndex(value, "<"); start >= 0 {
		value = value[start:]
	}
	value = strings.NewReplacer("<", "", ">", "").Replace(value)
	return strings.TrimSpace(value)
}
