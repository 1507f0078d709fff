package pattern

// MetadataPattern matches one metadata entry: Key against the entry's key,
// then Value against its value. Value may backreference groups of Key.
type MetadataPattern struct {
	Key   *Pattern
	Value *Pattern
}

// Equal compares both patterns by source text.
func (mp MetadataPattern) Equal(other MetadataPattern) bool {
	return mp.Key.Equal(other.Key) && mp.Value.Equal(other.Value)
}

// MetadataMatch reports whether patterns cover metadata in both directions:
// every metadata entry is matched by at least one pattern, and every pattern
// matches at least one entry. An empty pattern list matches only empty
// metadata.
func MetadataMatch(patterns []MetadataPattern, metadata map[string]string) bool {
	if len(patterns) == 0 {
		return len(metadata) == 0
	}

	used := make([]bool, len(patterns))
	for key, value := range metadata {
		matched := false
		for i, mp := range patterns {
			if ChainMatch([]*Pattern{mp.Key, mp.Value}, []string{key, value}) {
				used[i] = true
				matched = true
			}
		}
		if !matched {
			return false
		}
	}

	for _, u := range used {
		if !u {
			return false
		}
	}
	return true
}

// MetadataPatternsEqual compares two ordered pattern lists by source text.
func MetadataPatternsEqual(a, b []MetadataPattern) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
