package taxonomy

import (
	"regexp"
	"strings"
)

// Classification is the taxonomy derived from an item identifier. The same
// identifier always yields the same Classification; classification runs both
// at ingestion time and again when graph relationships are built, so it must
// stay pure.
type Classification struct {
	Category         string
	Subcategory      string
	Tier             int
	EnchantmentLevel int
	TypeLabel        string
}

type categoryRule struct {
	name     string
	contains []string
}

// Ordered: first match wins. Weapon markers are checked before armor so
// "MAIN_" and "2H_" identifiers never fall through to broader rules.
var categoryRules = []categoryRule{
	{"weapon", []string{"_2H_", "_MAIN_", "_OFF_"}},
	{"armor", []string{"_HEAD_", "_ARMOR_", "_SHOES_", "_CAPE"}},
	{"tool", []string{"_TOOL_"}},
	{"bag", []string{"_BAG"}},
	{"food", []string{"_MEAL_", "_FOOD_"}},
	{"potion", []string{"_POTION_"}},
	{"mount", []string{"_MOUNT_"}},
	{"resource", []string{"_HIDE", "_ORE", "_WOOD", "_FIBER", "_ROCK", "_STONE", "_LEATHER", "_CLOTH", "_METALBAR", "_PLANKS", "_STONEBLOCK"}},
	{"rune", []string{"_RUNE"}},
	{"soul", []string{"_SOUL"}},
	{"relic", []string{"_RELIC"}},
	{"journal", []string{"_JOURNAL"}},
	{"map", []string{"_MAP", "_TREASURE"}},
	{"consumable", []string{"_CONSUMABLE", "QUESTITEM"}},
	{"furniture", []string{"_FURNITURE"}},
	{"unique", []string{"UNIQUE_"}},
}

var categoryPrefixDefaults = map[string]string{
	"T1": "resource",
	"T2": "resource",
	"T3": "resource",
}

var subcategoryRules = map[string][]categoryRule{
	"weapon": {
		{"two-handed", []string{"_2H_"}},
		{"one-handed", []string{"_MAIN_", "_OFF_"}},
		{"ranged", []string{"BOW", "CROSSBOW"}},
		{"magic", []string{"FIRESTAFF", "FROSTSTAFF", "ARCANESTAFF", "HOLYSTAFF", "CURSEDSTAFF", "NATURESTAFF", "STAFF"}},
	},
	"armor": {
		{"cloth", []string{"CLOTH"}},
		{"leather", []string{"LEATHER"}},
		{"plate", []string{"PLATE"}},
	},
	"resource": {
		{"leather", []string{"HIDE", "LEATHER"}},
		{"metal", []string{"ORE", "METALBAR"}},
		{"wood", []string{"WOOD", "PLANKS"}},
		{"fabric", []string{"FIBER", "CLOTH"}},
		{"stone", []string{"ROCK", "STONE"}},
	},
	"mount": {
		{"riding", []string{"HORSE", "DIREWOLF", "DIREBOAR", "STAG", "MOABIRD"}},
		{"transport", []string{"OX", "MULE", "MAMMOTH"}},
	},
}

// typeLabels maps identifier stems (tier and enchantment stripped) to human
// labels. Stems not listed fall back to a lowercased, space-separated form.
var typeLabels = map[string]string{
	"HIDE":          "Hide",
	"ORE":           "Ore",
	"WOOD":          "Wood",
	"FIBER":         "Fiber",
	"ROCK":          "Rock",
	"LEATHER":       "Leather",
	"METALBAR":      "Metal Bar",
	"PLANKS":        "Planks",
	"CLOTH":         "Cloth",
	"STONEBLOCK":    "Stone Block",
	"BAG":           "Bag",
	"CAPE":          "Cape",
	"2H_BOW":        "Bow",
	"2H_CROSSBOW":   "Crossbow",
	"MAIN_SWORD":    "Sword",
	"MAIN_AXE":      "Axe",
	"MAIN_MACE":     "Mace",
	"MAIN_SPEAR":    "Spear",
	"MAIN_DAGGER":   "Dagger",
	"2H_FIRESTAFF":  "Fire Staff",
	"2H_HOLYSTAFF":  "Holy Staff",
	"MOUNT_HORSE":   "Riding Horse",
	"MOUNT_OX":      "Transport Ox",
	"TOOL_PICKAXE":  "Pickaxe",
	"TOOL_AXE":      "Woodcutter Axe",
	"TOOL_SICKLE":   "Sickle",
	"TOOL_HAMMER":   "Stone Hammer",
	"TOOL_KNIFE":    "Skinning Knife",
	"POTION_HEAL":   "Healing Potion",
	"POTION_ENERGY": "Energy Potion",
	"MEAL_SOUP":     "Soup",
	"MEAL_STEW":     "Stew",
}

var (
	tierPrefixRe    = regexp.MustCompile(`^T(\d)_`)
	enchantSuffixRe = regexp.MustCompile(`@(\d)$`)
)

// Classify derives the full taxonomy for an identifier. Pure and
// deterministic; no lookups outside the rule tables above.
func Classify(identifier string) Classification {
	id := strings.ToUpper(strings.TrimSpace(identifier))
	tier := parseTier(id)
	ench := parseEnchantment(id)
	stem := Stem(id)

	category := classifyCategory(id)
	return Classification{
		Category:         category,
		Subcategory:      classifySubcategory(category, id),
		Tier:             tier,
		EnchantmentLevel: ench,
		TypeLabel:        typeLabel(stem),
	}
}

// Stem returns the identifier with the tier prefix and enchantment suffix
// removed, the stable key shared by all tiers of one item line.
func Stem(identifier string) string {
	id := strings.ToUpper(strings.TrimSpace(identifier))
	id = enchantSuffixRe.ReplaceAllString(id, "")
	id = tierPrefixRe.ReplaceAllString(id, "")
	return id
}

// StripEnchantment returns the identifier of the unenchanted base item.
func StripEnchantment(identifier string) string {
	return enchantSuffixRe.ReplaceAllString(strings.TrimSpace(identifier), "")
}

func parseTier(id string) int {
	if m := tierPrefixRe.FindStringSubmatch(id); m != nil {
		return int(m[1][0] - '0')
	}
	return 0
}

func parseEnchantment(id string) int {
	if m := enchantSuffixRe.FindStringSubmatch(id); m != nil {
		return int(m[1][0] - '0')
	}
	return 0
}

func classifyCategory(id string) string {
	for _, rule := range categoryRules {
		for _, marker := range rule.contains {
			if strings.Contains(id, marker) {
				return rule.name
			}
		}
	}
	if m := tierPrefixRe.FindStringSubmatch(id); m != nil {
		if cat, ok := categoryPrefixDefaults["T"+m[1]]; ok {
			return cat
		}
	}
	return "misc"
}

func classifySubcategory(category, id string) string {
	rules, ok := subcategoryRules[category]
	if !ok {
		return "general"
	}
	// Marker-specific rules (ranged/magic, material kinds) outrank the
	// broad handedness buckets, so scan for the most specific match first.
	if category == "weapon" {
		for _, rule := range rules[2:] {
			for _, marker := range rule.contains {
				if strings.Contains(id, marker) {
					return rule.name
				}
			}
		}
		rules = rules[:2]
	}
	for _, rule := range rules {
		for _, marker := range rule.contains {
			if strings.Contains(id, marker) {
				return rule.name
			}
		}
	}
	return "general"
}

func typeLabel(stem string) string {
	if label, ok := typeLabels[stem]; ok {
		return label
	}
	return strings.ToLower(strings.ReplaceAll(stem, "_", " "))
}
