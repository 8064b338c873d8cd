package recurring

import (
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// NormalizeMerchantKey case-folds a bank description, collapses punctuation
// and strips trailing tokens that carry digits (transaction ids, store
// numbers). "NETFLIX.COM 8812" and "Netflix.com #9913" both become
// "netflix com".
func NormalizeMerchantKey(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '&':
			b.WriteRune(r)
		case r == '\'':
			// drop apostrophes so "dan murphy's" matches "dan murphys"
		default:
			b.WriteRune(' ')
		}
	}
	tokens := strings.Fields(b.String())
	for len(tokens) > 1 && hasDigit(tokens[len(tokens)-1]) {
		tokens = tokens[:len(tokens)-1]
	}
	return strings.Join(tokens, " ")
}

// MerchantLabel picks the enriched merchant name when enrichment produced
// one and the raw description otherwise.
func MerchantLabel(raw string, enriched *string) string {
	if enriched != nil && strings.TrimSpace(*enriched) != "" {
		return strings.TrimSpace(*enriched)
	}
	return raw
}

// DisplayName turns a normalized key into a short title-cased label.
func DisplayName(key string) string {
	parts := strings.Fields(key)
	for i, p := range parts {
		parts[i] = properCap(p)
	}
	return strings.Join(parts, " ")
}

// MergeKeys maps every key to a canonical spelling. Keys of at least
// minMergeLen runes whose edit distance ratio is within maxRatio collapse
// onto the most frequent spelling; ties go to the alphabetically first key.
func MergeKeys(counts map[string]int, maxRatio float64) map[string]string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})

	out := make(map[string]string, len(keys))
	var canonical []string
	for _, k := range keys {
		target := k
		for _, c := range canonical {
			if similarKeys(c, k, maxRatio) {
				target = c
				break
			}
		}
		if target == k {
			canonical = append(canonical, k)
		}
		out[k] = target
	}
	return out
}

const minMergeLen = 6

func similarKeys(a, b string, maxRatio float64) bool {
	la, lb := len([]rune(a)), len([]rune(b))
	if la < minMergeLen || lb < minMergeLen || maxRatio <= 0 {
		return false
	}
	longest := la
	if lb > longest {
		longest = lb
	}
	dist := levenshtein.ComputeDistance(a, b)
	return float64(dist)/float64(longest) <= maxRatio
}

func hasDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func properCap(s string) string {
	if s == "" {
		return s
	}
	r := []rune(strings.ToLower(s))
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
