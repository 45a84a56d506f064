package vernacular

import "strings"

// trigrams returns the set of overlapping 3-character sequences of s, case
// folded, padded the way Postgres' pg_trgm extension pads short strings
// ("  " prefix, " " suffix) so very short inputs still produce at least one
// trigram.
func trigrams(s string) map[string]struct{} {
	s = "  " + strings.ToLower(s) + " "
	set := make(map[string]struct{})
	for i := 0; i+3 <= len(s); i++ {
		set[s[i:i+3]] = struct{}{}
	}
	return set
}

// TrigramSimilarity approximates Postgres pg_trgm's similarity() function:
// the Jaccard index of a's and b's trigram sets. Used as the sqlite/in-memory
// fallback match strategy in place of a real pg_trgm index (the Resolver
// pushes `%`/similarity() down to SQL only on the postgres driver).
func TrigramSimilarity(a, b string) float64 {
	ta, tb := trigrams(a), trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	intersection := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
