package utils

import (
	"fmt"
	"net/http"
	"strconv"

	"runnerhub/models"
)

// QueryBool reads a boolean query parameter; anything unparsable is false.
func QueryBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}

// QueryCursor reads a non-negative integer query parameter such as ?since=.
// A missing parameter yields 0.
func QueryCursor(r *http.Request, key string) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer: %w", key, models.ErrValidation)
	}
	return n, nil
}
