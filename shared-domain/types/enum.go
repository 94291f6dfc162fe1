package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownVariant is returned when a status string does not match any
// known value of its enum.
var ErrUnknownVariant = errors.New("unknown enum variant")

func parseVariant[T ~string](kind, raw string, known []T) (T, error) {
	for _, v := range known {
		if string(v) == raw {
			return v, nil
		}
	}
	return "", fmt.Errorf("%s %q: %w", kind, raw, ErrUnknownVariant)
}

func unmarshalVariant[T ~string](data []byte, kind string, known []T) (T, error) {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", fmt.Errorf("%s: %w", kind, err)
	}
	return parseVariant(kind, raw, known)
}
