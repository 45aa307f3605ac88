package identity

import "strings"

// DefaultMaxVariations bounds Variants when callers pass no explicit limit.
const DefaultMaxVariations = 5

// substitution is one directed spelling rewrite.
type substitution struct {
	from, to string
}

// substitutions lists the speech-to-text confusions we tolerate, in the
// order they are tried. Each pair appears in both directions.
var substitutions = []substitution{
	{"ai", "ei"}, {"ei", "ai"},
	{"y", "i"}, {"i", "y"},
	{"ll", "y"}, {"y", "ll"},
	{"b", "v"}, {"v", "b"},
	{"s", "z"}, {"z", "s"},
	{"c", "s"}, {"s", "c"},
}

// Variants returns the normalized form of name followed by the spellings
// produced by applying each substitution rule to the whole string. Rules
// are applied to the original only, never chained. At most max entries are
// returned; max below 1 is treated as 1.
func Variants(name string, max int) []string {
	if max < 1 {
		max = 1
	}
	base := NormalizeName(name)
	out := []string{base}
	if base == "" {
		return out
	}

	seen := map[string]struct{}{base: {}}
	for _, s := range substitutions {
		if len(out) >= max {
			break
		}
		if !strings.Contains(base, s.from) {
			continue
		}
		v := strings.ReplaceAll(base, s.from, s.to)
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// TokensMatch reports whether the variant sets of a and b intersect.
func TokensMatch(a, b string, max int) bool {
	va := Variants(a, max)
	if va[0] == "" {
		return false
	}
	set := make(map[string]struct{}, len(va))
	for _, v := range va {
		set[v] = struct{}{}
	}
	for _, v := range Variants(b, max) {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

// NamesMatch compares a spoken name against a stored one. The first tokens
// must match and the last tokens must match; a one-word name uses the same
// token for both, so "Daisy" never matches "Daisy Smith".
func NamesMatch(spoken, stored string, max int) bool {
	sf, sl, ok := firstLast(spoken)
	if !ok {
		return false
	}
	tf, tl, ok := firstLast(stored)
	if !ok {
		return false
	}
	return TokensMatch(sf, tf, max) && TokensMatch(sl, tl, max)
}

func firstLast(name string) (string, string, bool) {
	tokens := strings.Fields(NormalizeName(name))
	if len(tokens) == 0 {
		return "", "", false
	}
	return tokens[0], tokens[len(tokens)-1], true
}
