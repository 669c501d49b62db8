package application

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/ahrav/go-arena/internal/domain"
)

// DefaultMaxPromptLength is the prompt limit in runes when none is configured.
const DefaultMaxPromptLength = 10000

// dangerousPatterns is the prompt denylist. Patterns are matched against
// NFKC-normalized text, case-insensitively, with . matching newlines.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`),
	regexp.MustCompile(`(?is)javascript:`),
	regexp.MustCompile(`(?is)data:text/html`),
	regexp.MustCompile(`(?is)vbscript:`),
	regexp.MustCompile(`(?is)on\w+\s*=`),
	regexp.MustCompile(`(?is)expression\s*\(`),
	regexp.MustCompile(`(?is)import\s+os`),
	regexp.MustCompile(`(?is)__import__`),
	regexp.MustCompile(`(?is)eval\s*\(`),
	regexp.MustCompile(`(?is)exec\s*\(`),
}

// InputGuard validates and sanitizes untrusted prompt text. It is stateless
// and safe for concurrent use.
type InputGuard struct {
	maxLength int
}

// NewInputGuard creates a guard; a non-positive maxLength uses
// DefaultMaxPromptLength.
func NewInputGuard(maxLength int) *InputGuard {
	if maxLength <= 0 {
		maxLength = DefaultMaxPromptLength
	}
	return &InputGuard{maxLength: maxLength}
}

// MaxLength returns the configured limit in runes.
func (g *InputGuard) MaxLength() int { return g.maxLength }

// Validate rejects empty, oversized and denylisted text.
func (g *InputGuard) Validate(text string) error {
	if strings.TrimSpace(text) == "" {
		return domain.NewValidationError(domain.ErrEmptyInput, "")
	}
	if n := utf8.RuneCountInString(text); n > g.maxLength {
		return domain.NewValidationError(domain.ErrInputTooLong,
			fmt.Sprintf("%d characters, maximum is %d", n, g.maxLength))
	}

	normalized := norm.NFKC.String(text)
	for _, p := range dangerousPatterns {
		if p.MatchString(normalized) {
			return domain.NewValidationError(domain.ErrDangerousContent, p.String())
		}
	}
	return nil
}

// Sanitize escapes HTML, strips NUL bytes and trims surrounding whitespace.
func (g *InputGuard) Sanitize(text string) string {
	sanitized := html.EscapeString(text)
	sanitized = strings.ReplaceAll(sanitized, "\x00", "")
	return strings.TrimSpace(sanitized)
}

// Check validates text and returns its sanitized form. Escaping can grow
// the text, so the limit applies to the sanitized result as well.
func (g *InputGuard) Check(text string) (string, error) {
	if err := g.Validate(text); err != nil {
		return "", err
	}
	sanitized := g.Sanitize(text)
	if n := utf8.RuneCountInString(sanitized); n > g.maxLength {
		return "", domain.NewValidationError(domain.ErrInputTooLong,
			fmt.Sprintf("%d characters after escaping, maximum is %d", n, g.maxLength))
	}
	return sanitized, nil
}
