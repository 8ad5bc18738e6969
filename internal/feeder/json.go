package feeder

import (
	"fmt"
	"os"

	"github.com/tidwall/gjson"
)

// JSONFeeder reads records from a JSON file containing an array of objects.
type JSONFeeder struct {
	*roundRobin
}

// NewJSONFeeder creates a new JSON feeder from the given file path.
// Every object must carry a "tenant" field; all values are kept as strings.
func NewJSONFeeder(path string) (*JSONFeeder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open JSON file: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("decode JSON: invalid document")
	}

	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, fmt.Errorf("decode JSON: expected an array of objects")
	}

	elements := root.Array()
	if len(elements) == 0 {
		return nil, fmt.Errorf("JSON file contains empty array")
	}

	records := make([]Record, 0, len(elements))
	for i, elem := range elements {
		if !elem.IsObject() {
			return nil, fmt.Errorf("record %d is not an object", i)
		}
		record := make(Record)
		elem.ForEach(func(key, value gjson.Result) bool {
			record[key.String()] = value.String()
			return true
		})
		if len(record) == 0 {
			return nil, fmt.Errorf("record %d is empty", i)
		}
		records = append(records, record)
	}

	rr, err := newRoundRobin(records)
	if err != nil {
		return nil, err
	}
	return &JSONFeeder{rr}, nil
}
