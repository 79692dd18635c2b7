package taxonomy

import (
	"regexp"
	"strings"
)

var (
	tierWordRe     = regexp.MustCompile(`(?i)\b(beginner's|novice's|journeyman's|adept's|expert's|master's|grandmaster's|elder's)\s*`)
	inlineTierRe   = regexp.MustCompile(`(?i)\btier\s*\d\b`)
	trailingEnchRe = regexp.MustCompile(`\s*@\d\s*$`)
	qualityParenRe = regexp.MustCompile(`\s*\([^)]*\)\s*$`)
	whitespaceRe   = regexp.MustCompile(`\s+`)
)

// NormalizeName strips tier, enchantment and quality decoration from a raw
// display name. If cleaning would leave nothing, the raw name is returned
// unchanged rather than losing the only name we have.
func NormalizeName(raw string) string {
	name := tierWordRe.ReplaceAllString(raw, "")
	name = inlineTierRe.ReplaceAllString(name, "")
	name = trailingEnchRe.ReplaceAllString(name, "")
	name = qualityParenRe.ReplaceAllString(name, "")
	name = whitespaceRe.ReplaceAllString(name, " ")
	name = strings.TrimSpace(name)
	name = strings.Trim(name, ".,-:;|")
	name = strings.TrimSpace(name)
	if name == "" {
		return raw
	}
	return name
}
