package screening

import (
	"fmt"
	"strings"
)

// Placeholder fills list fields the oracle left short.
const Placeholder = "Not specified"

// NormalizeListField coerces value into exactly arity non-blank strings. A bare string becomes
// a single element, any other non-list yields placeholders only. Arity defaults to ListArity.
func NormalizeListField(value any, arity int) []string {
	if arity <= 0 {
		arity = ListArity
	}

	var items []string
	switch v := value.(type) {
	case string:
		items = appendNonBlank(items, v)
	case []string:
		for _, s := range v {
			items = appendNonBlank(items, s)
		}
	case []any:
		for _, elem := range v {
			if elem == nil {
				continue
			}
			items = appendNonBlank(items, fmt.Sprint(elem))
		}
	}

	for len(items) < arity {
		items = append(items, Placeholder)
	}

	return items[:arity]
}

func appendNonBlank(items []string, s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return items
	}
	return append(items, s)
}
