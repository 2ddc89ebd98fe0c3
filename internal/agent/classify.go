package agent

import (
	"strings"

	"github.com/v0xg/digitwin/internal/executor"
)

// Classifier decides which actions need user confirmation
type Classifier interface {
	Sensitive(action executor.Action) bool
}

// KeywordClassifier flags actions whose element id or value mentions a keyword
type KeywordClassifier struct {
	keywords []string
}

// NewKeywordClassifier creates a case-insensitive keyword classifier
func NewKeywordClassifier(keywords []string) *KeywordClassifier {
	c := &KeywordClassifier{}
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			c.keywords = append(c.keywords, k)
		}
	}
	return c
}

// Sensitive implements Classifier
func (c *KeywordClassifier) Sensitive(action executor.Action) bool {
	for _, key := range []string{executor.ArgElementID, executor.ArgValue} {
		v, ok := action.Arg(key)
		if !ok {
			continue
		}
		v = strings.ToLower(v)
		for _, k := range c.keywords {
			if strings.Contains(v, k) {
				return true
			}
		}
	}
	return false
}
