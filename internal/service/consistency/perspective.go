package consistency

import (
	"regexp"
	"strings"
)

// Stored facts are phrased from an observer's perspective. Before a
// candidate is compared against the graph, first-person pronouns are
// rewritten to the role-qualified third person, e.g. "I went myself"
// (role=user, lang=en) becomes "User went User himself".
//
// Rules live in a per-language table so new languages extend the table
// instead of adding branches. The rewrite is deterministic and
// idempotent: no replacement produces text a rule matches again.

type perspectiveRule struct {
	pattern *regexp.Regexp
	// replacement with {role} substituted by the display role
	replacement string
}

var perspectiveRules = map[string][]perspectiveRule{
	"en": {
		// Order matters: longer pronouns first so "myself" is not
		// clipped by the "my" rule.
		{pattern: regexp.MustCompile(`\bmyself\b`), replacement: "{role} himself"},
		{pattern: regexp.MustCompile(`\bMyself\b`), replacement: "{role} himself"},
		{pattern: regexp.MustCompile(`\bI\b`), replacement: "{role}"},
		{pattern: regexp.MustCompile(`\bme\b`), replacement: "{role}"},
		{pattern: regexp.MustCompile(`\bMe\b`), replacement: "{role}"},
	},
	"zh": {
		{pattern: regexp.MustCompile(`我自己`), replacement: "{role}自己"},
		{pattern: regexp.MustCompile(`我`), replacement: "{role}"},
	},
}

// roleDisplay maps a message role to the third-person label used in the
// rewritten text, per language.
var roleDisplay = map[string]map[string]string{
	"en": {
		"user":      "User",
		"assistant": "Assistant",
	},
	"zh": {
		"user":      "用户",
		"assistant": "助手",
	},
}

// AdjustPerspective rewrites first-person phrasing in text to the
// role-qualified third person. Unknown languages and roles pass through
// unchanged, which keeps the rewrite safe for already-adjusted text.
func AdjustPerspective(text, role, lang string) string {
	rules, ok := perspectiveRules[lang]
	if !ok {
		return text
	}

	display := roleDisplay[lang][strings.ToLower(role)]
	if display == "" {
		if role == "" {
			return text
		}
		display = strings.ToUpper(role[:1]) + role[1:]
	}

	for _, rule := range rules {
		replacement := strings.ReplaceAll(rule.replacement, "{role}", display)
		text = rule.pattern.ReplaceAllString(text, replacement)
	}
	return text
}
