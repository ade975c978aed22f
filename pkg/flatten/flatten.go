// Package flatten normalizes nested source records into flat column sets.
//
// Nested mappings are walked recursively, joining key segments with an
// underscore. Arrays are serialized to a JSON string rather than exploded
// into rows. Nil and missing fields stay absent, leaving type inference
// to the sink.
package flatten

import (
	"fmt"

	"github.com/driftdata/drift/pkg/errors"
	gojson "github.com/goccy/go-json"
)

// Separator joins nested key segments in flattened column names.
const Separator = "_"

// FlatRecord maps column names to scalar or JSON-serialized values,
// ready for table delivery.
type FlatRecord map[string]interface{}

// Flatten normalizes one raw record. A record that cannot be normalized
// (an unserializable array value) returns a record-processing error; the
// caller's policy is to log, skip the record, and continue the stream.
func Flatten(raw map[string]interface{}) (FlatRecord, error) {
	flat := make(FlatRecord, len(raw))
	if err := walk(flat, "", raw); err != nil {
		return nil, err
	}
	return flat, nil
}

func walk(flat FlatRecord, prefix string, m map[string]interface{}) error {
	for key, value := range m {
		name := key
		if prefix != "" {
			name = prefix + Separator + key
		}

		switch v := value.(type) {
		case nil:
			// absent, not defaulted
		case map[string]interface{}:
			if err := walk(flat, name, v); err != nil {
				return err
			}
		case []interface{}:
			encoded, err := gojson.Marshal(v)
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeRecordProcessing,
					fmt.Sprintf("failed to serialize array field %q", name))
			}
			flat[name] = string(encoded)
		default:
			flat[name] = v
		}
	}
	return nil
}

// Clone returns an independent shallow copy of the record.
func (r FlatRecord) Clone() FlatRecord {
	c := make(FlatRecord, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}
