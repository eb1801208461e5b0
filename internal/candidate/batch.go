package candidate

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Batch is the set of records produced by one analysis call for one document.
// It is immutable once built.
type Batch struct {
	records []Record
}

// NewBatch validates every record and builds a batch. Unlike the model
// response parser it does not drop records: any invalid record is an error.
func NewBatch(records []Record) (Batch, error) {
	for i, r := range records {
		if err := r.Validate(); err != nil {
			return Batch{}, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return Batch{records: slices.Clone(records)}, nil
}

// Records returns a copy of the batch records in their original order.
func (b Batch) Records() []Record {
	return slices.Clone(b.records)
}

func (b Batch) Len() int {
	return len(b.records)
}

// MarshalJSON encodes the batch as a JSON array of records.
func (b Batch) MarshalJSON() ([]byte, error) {
	records := b.records
	if records == nil {
		records = []Record{}
	}
	return json.Marshal(records)
}

// UnmarshalJSON decodes a JSON array of records and validates each of them
// with Decode.
func (b *Batch) UnmarshalJSON(data []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	records := make([]Record, 0, len(items))
	for i, item := range items {
		r, err := Decode(item)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		records = append(records, r)
	}
	*b = Batch{records: records}
	return nil
}
