package status

import (
	"strings"
	"testing"
	"unicode"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_CleanNameOutputIsAlwaysSafe tests that no input, printable or
// not, can push bytes past the sanitizer that a terminal or JSON consumer
// would have to defend against.
func TestProperty_CleanNameOutputIsAlwaysSafe(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.MaxSize = 400

	properties := gopter.NewProperties(parameters)
	s := NewSanitizer()

	properties.Property("output contains only printable runes", prop.ForAll(
		func(input string) bool {
			for _, r := range s.CleanName(input) {
				if r != ' ' && (unicode.IsControl(r) || !unicode.IsPrint(r)) {
					return false
				}
			}
			return true
		},
		gen.AnyString(),
	))

	properties.Property("output length is bounded", prop.ForAll(
		func(input string) bool {
			return len(s.CleanName(input)) <= MaxNameLength
		},
		gen.AnyString(),
	))

	properties.Property("whitespace never doubles up", prop.ForAll(
		func(input string) bool {
			out := s.CleanName(input)
			return !strings.Contains(out, "  ") &&
				out == strings.TrimSpace(out)
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

// TestProperty_CredentialFlagsNeverSurvive tests that any secret passed via a
// recognized credential flag is absent from the sanitized title.
func TestProperty_CredentialFlagsNeverSurvive(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)
	s := NewSanitizer()

	genSecret := gen.RegexMatch(`[a-zA-Z0-9]{6,24}`)
	genFlag := gen.OneConstOf("password", "passwd", "token", "secret", "api_key")

	properties.Property("flag values are redacted", prop.ForAll(
		func(flag, secret string) bool {
			title := "worker --" + flag + "=" + secret + " --verbose"
			return !strings.Contains(s.CleanName(title), secret)
		},
		genFlag,
		genSecret,
	))

	properties.Property("url userinfo is redacted", prop.ForAll(
		func(user, secret string) bool {
			title := "sync https://" + user + ":" + secret + "@repo.internal/data"
			return !strings.Contains(s.CleanName(title), secret)
		},
		gen.RegexMatch(`[a-z]{3,10}`),
		genSecret,
	))

	properties.TestingRun(t)
}
