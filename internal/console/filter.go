package console

import "strings"

// Filter narrows items client-side. An item matches when any of the strings
// returned by fields contains term, ignoring case. An empty term matches
// everything.
func Filter[T any](items []T, term string, fields func(T) []string) []T {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return items
	}

	var result []T
	for _, item := range items {
		for _, f := range fields(item) {
			if strings.Contains(strings.ToLower(f), term) {
				result = append(result, item)
				break
			}
		}
	}
	return result
}
