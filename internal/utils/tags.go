package utils

import "strings"

// NormalizeTags canonicalises raw tag input into a lower-cased, de-duplicated list
// that keeps first-seen order. Accepted shapes are a comma separated string, a
// string slice, or a slice of interfaces holding strings. Anything else yields an
// empty list.
func NormalizeTags(raw interface{}) []string {
	var candidates []string

	switch v := raw.(type) {
	case nil:
	case string:
		candidates = strings.Split(v, ",")
	case []string:
		candidates = v
	case []interface{}:
		candidates = make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				candidates = append(candidates, s)
			}
		}
	}

	return appendUnique(make([]string, 0, len(candidates)), candidates)
}

// MergeTags unions normalised tag sets, keeping the order in which tags first appear.
func MergeTags(sets ...[]string) []string {
	size := 0
	for _, set := range sets {
		size += len(set)
	}

	merged := make([]string, 0, size)
	for _, set := range sets {
		merged = appendUnique(merged, set)
	}
	return merged
}

// HasAnyTag reports whether tags contains at least one of the wanted tags.
// An empty wanted set matches everything.
func HasAnyTag(tags []string, wanted []string) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, tag := range tags {
		for _, w := range wanted {
			if tag == w {
				return true
			}
		}
	}
	return false
}

func appendUnique(dst []string, values []string) []string {
	seen := make(map[string]struct{}, len(dst)+len(values))
	for _, existing := range dst {
		seen[existing] = struct{}{}
	}

	for _, value := range values {
		tag := strings.ToLower(strings.TrimSpace(value))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		dst = append(dst, tag)
	}
	return dst
}
