package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/libmap/internal/ir"
)

// marshalReport converts a report to canonical JSON TEXT for storage.
func marshalReport(r *ir.Report) (string, error) {
	data, err := ir.MarshalCanonical(r.Canonical())
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	return string(data), nil
}

// unmarshalReport parses a stored report.
func unmarshalReport(data string) (*ir.Report, error) {
	var r ir.Report
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, fmt.Errorf("unmarshal report: %w", err)
	}
	return &r, nil
}

// marshalFiles converts a file id list to canonical JSON TEXT. An empty
// list is stored as "[]".
func marshalFiles(ids []ir.FileID) (string, error) {
	if len(ids) == 0 {
		return "[]", nil
	}
	data, err := ir.MarshalCanonical(ids)
	if err != nil {
		return "", fmt.Errorf("marshal files: %w", err)
	}
	return string(data), nil
}

func unmarshalFiles(data string) ([]ir.FileID, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var ids []ir.FileID
	if err := json.Unmarshal([]byte(data), &ids); err != nil {
		return nil, fmt.Errorf("unmarshal files: %w", err)
	}
	return ids, nil
}
