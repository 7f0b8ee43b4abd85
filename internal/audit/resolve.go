package audit

import (
	"context"
	"sort"
	"strings"

	"github.com/safeguard-project/safeguard/pkg/errclass"
)

// maxAmbiguousListed bounds how many candidates an ambiguity error names.
const maxAmbiguousListed = 5

// Resolve maps a full or prefixed entry id to the id of the unique entry it
// names. An exact id always wins; otherwise the query must prefix exactly one
// indexed id. Lets operators paste the short ids the CLI prints.
func (t *Trail) Resolve(ctx context.Context, query string) (string, error) {
	if query == "" {
		return "", errclass.ErrInvalidInput.WithMessage("entry id must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.index[query]; ok {
		return query, nil
	}

	var matches []string
	for id := range t.index {
		if strings.HasPrefix(id, query) {
			matches = append(matches, id)
		}
	}

	switch len(matches) {
	case 0:
		return "", errclass.ErrEntryNotFound.WithMessagef("entry %s", query)
	case 1:
		return matches[0], nil
	default:
		sort.Strings(matches)
		listed := matches
		if len(listed) > maxAmbiguousListed {
			listed = listed[:maxAmbiguousListed]
		}
		return "", errclass.ErrInvalidInput.WithMessagef(
			"entry id %s is ambiguous, matches %d entries (%s)",
			query, len(matches), strings.Join(listed, ", "))
	}
}
