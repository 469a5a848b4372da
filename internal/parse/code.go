package parse

import (
	"fmt"
	"strings"

	"equipment-custody-backend/internal/model"
)

// NormalizeCode trims, uppercases and replaces apostrophes with hyphens.
func NormalizeCode(raw string) string {
	code := strings.ToUpper(strings.TrimSpace(raw))
	return strings.ReplaceAll(code, "'", "-")
}

// CodeTooLongError reports a normalized code above model.MaxCodeLength.
type CodeTooLongError struct {
	Code string
}

func (e *CodeTooLongError) Error() string {
	return fmt.Sprintf("code %q exceeds %d characters", e.Code, model.MaxCodeLength)
}

// SplitCodes turns newline-delimited scanner input into normalized codes.
// Blank lines and repeats within the same input are dropped; the order of
// first appearance is kept.
func SplitCodes(raw string) ([]string, error) {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")

	seen := make(map[string]struct{})
	var codes []string
	for _, line := range strings.Split(raw, "\n") {
		code := NormalizeCode(line)
		if code == "" {
			continue
		}
		if len([]rune(code)) > model.MaxCodeLength {
			return nil, &CodeTooLongError{Code: code}
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes, nil
}
