package cmdutil

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-bexpr"
)

// filterCache stores compiled evaluators keyed by expression so repeated
// evaluation over a listing compiles once.
var filterCache = &sync.Map{}

// MatchFilter evaluates a go-bexpr expression against one row of a listing,
// represented as a field map. An empty expression matches everything.
func MatchFilter(expr string, fields map[string]any) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}

	var evaluator *bexpr.Evaluator
	if cached, ok := filterCache.Load(expr); ok {
		evaluator = cached.(*bexpr.Evaluator)
	} else {
		compiled, err := bexpr.CreateEvaluator(expr)
		if err != nil {
			return false, fmt.Errorf("invalid filter expression %q: %w", expr, err)
		}
		filterCache.Store(expr, compiled)
		evaluator = compiled
	}

	matches, err := evaluator.Evaluate(fields)
	if err != nil {
		// Referencing a field the row does not carry is a non-match, not
		// a hard error, so filters can probe optional fields.
		return false, nil
	}
	return matches, nil
}
