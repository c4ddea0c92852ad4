package catalog

import (
	"sort"
	"strings"
)

// Rank orders search results so names starting with the query come first,
// then names containing it, then everything else; ties break on name. The
// sort is stable.
func Rank(candidates []Candidate, query string) {
	q := strings.ToLower(query)
	key := func(c Candidate) (bool, bool) {
		name := strings.ToLower(c.Name)
		return !strings.HasPrefix(name, q), !strings.Contains(name, q)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		iPrefix, iContains := key(candidates[i])
		jPrefix, jContains := key(candidates[j])
		if iPrefix != jPrefix {
			return !iPrefix
		}
		if iContains != jContains {
			return !iContains
		}
		return candidates[i].Name < candidates[j].Name
	})
}
