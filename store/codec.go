package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/xraph/datastore/mapping"
)

// EncodeEntry serializes an entry as JSON. Times become RFC 3339 strings and
// text marshalers their text form; mapping.EntityAccess decodes both back.
func EncodeEntry(entry mapping.Entry) ([]byte, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("store: encode entry: %w", err)
	}
	return data, nil
}

// DecodeEntry parses JSON produced by EncodeEntry. Numbers are kept as
// json.Number so 64-bit identifiers survive.
func DecodeEntry(data []byte) (mapping.Entry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var entry mapping.Entry
	if err := dec.Decode(&entry); err != nil {
		return nil, fmt.Errorf("store: decode entry: %w", err)
	}
	if entry == nil {
		entry = mapping.Entry{}
	}
	return entry, nil
}
