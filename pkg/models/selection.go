package models

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidSelection = errors.New("invalid selection")

// Select walks value along path. String elements index maps, integer
// elements index slices. JSON-decoded float indices are accepted when whole.
func Select(value any, path []any) (any, error) {
	current := value

	for i, element := range path {
		switch key := element.(type) {
		case string:
			m, ok := current.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: step %d expects an object, got %T", ErrInvalidSelection, i, current)
			}

			next, exists := m[key]
			if !exists {
				return nil, fmt.Errorf("%w: key %q not found", ErrInvalidSelection, key)
			}

			current = next
		default:
			index, ok := asIndex(element)
			if !ok {
				return nil, fmt.Errorf("%w: step %d has unsupported element %v", ErrInvalidSelection, i, element)
			}

			list, ok := current.([]any)
			if !ok {
				return nil, fmt.Errorf("%w: step %d expects a list, got %T", ErrInvalidSelection, i, current)
			}

			if index < 0 || index >= len(list) {
				return nil, fmt.Errorf("%w: index %d out of range", ErrInvalidSelection, index)
			}

			current = list[index]
		}
	}

	return current, nil
}

func asIndex(element any) (int, bool) {
	switch v := element.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}

		return int(v), true
	default:
		return 0, false
	}
}
