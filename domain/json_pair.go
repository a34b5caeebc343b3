package domain

import (
	"encoding/json"
	"fmt"
)

// marshalPair renders two strings as a JSON two-element array, matching the
// wire shape of `to`/`from` in the packet schema (§6 of the spec).
func marshalPair(a, b string) ([]byte, error) {
	return json.Marshal([2]string{a, b})
}

func unmarshalPair(data []byte) (string, string, error) {
	var pair [2]string
	if err := json.Unmarshal(data, &pair); err != nil {
		return "", "", fmt.Errorf("decode address pair: %w", err)
	}
	return pair[0], pair[1], nil
}
