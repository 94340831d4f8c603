package wal

import (
	"encoding/json"
	"fmt"
)

// storedEntry is the value format of the key-value backends.
// Data is base64 in JSON so arbitrary bytes survive.
type storedEntry struct {
	Op   Op     `json:"op"`
	Path string `json:"path"`
	Data []byte `json:"data"`
}

// EncodeValue serialises an entry body for a key-value backend.
func EncodeValue(op Op, path string, data []byte) ([]byte, error) {
	b, err := json.Marshal(storedEntry{Op: op, Path: path, Data: data})
	if err != nil {
		return nil, fmt.Errorf("wal: encode entry: %w", err)
	}
	return b, nil
}

// DecodeValue is the inverse of EncodeValue.
func DecodeValue(seq uint64, b []byte) (Entry, error) {
	var se storedEntry
	if err := json.Unmarshal(b, &se); err != nil {
		return Entry{}, fmt.Errorf("wal: decode entry %d: %w", seq, err)
	}
	return Entry{Seq: seq, Op: se.Op, Path: se.Path, Data: se.Data}, nil
}
