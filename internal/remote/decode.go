package remote

import (
	"encoding/json"
	"fmt"
)

// Decode copies a row into dst, matching columns to json tags.
func Decode(row Row, dst any) error {
	return convert(row, dst)
}

// DecodeAll copies rows into dst, which must point to a slice.
func DecodeAll(rows []Row, dst any) error {
	if rows == nil {
		rows = []Row{}
	}
	return convert(rows, dst)
}

func convert(src, dst any) error {
	data, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("failed to encode rows: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to decode rows: %w", err)
	}
	return nil
}
