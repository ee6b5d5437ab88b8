package util

import (
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

const (
	// MaxRegexLength is the maximum allowed regex pattern length
	MaxRegexLength = 500
	// DefaultRegexTimeout bounds a single match
	DefaultRegexTimeout = 100 * time.Millisecond
)

// nestedQuantifiers are fragments that usually mean catastrophic backtracking
var nestedQuantifiers = []string{")+*", ")*+", ")++", ")**", ")+{", ")*{", "}+*", "}*+", "}+{", "}*{"}

// ValidatePattern rejects empty, oversized and nested-quantifier patterns
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("regex pattern cannot be empty")
	}
	if len(pattern) > MaxRegexLength {
		return fmt.Errorf("regex pattern too long: %d characters (max %d)", len(pattern), MaxRegexLength)
	}
	for _, frag := range nestedQuantifiers {
		if strings.Contains(pattern, frag) {
			return fmt.Errorf("pattern contains nested quantifiers which may cause ReDoS: found '%s'", frag)
		}
	}
	return nil
}

// CompilePattern validates pattern and compiles it with a match timeout.
// A zero timeout uses DefaultRegexTimeout.
func CompilePattern(pattern string, timeout time.Duration) (*regexp2.Regexp, error) {
	if err := ValidatePattern(pattern); err != nil {
		return nil, err
	}
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern %q: %w", pattern, err)
	}
	if timeout <= 0 {
		timeout = DefaultRegexTimeout
	}
	re.MatchTimeout = timeout
	return re, nil
}
