package core

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// WriteStableJSON writes a canonical JSON-like representation of v into b.
// Objects (map[string]any) have keys sorted recursively so the output is
// stable across runs. Arrays preserve order.
func WriteStableJSON(b *bytes.Buffer, v any) {
	switch t := v.(type) {
	case map[string]any:
		writeStableMap(b, t)
	case []any:
		writeStableSlice(b, t)
	default:
		bs, err := json.Marshal(t)
		if err != nil {
			b.WriteString("null")
			return
		}
		b.Write(bs)
	}
}

func writeStableMap(b *bytes.Buffer, m map[string]any) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err == nil {
			b.Write(kb)
		} else {
			b.WriteString("\"")
			b.WriteString(k)
			b.WriteString("\"")
		}
		b.WriteByte(':')
		WriteStableJSON(b, m[k])
	}
	b.WriteByte('}')
}

func writeStableSlice(b *bytes.Buffer, s []any) {
	b.WriteByte('[')
	for i, e := range s {
		if i > 0 {
			b.WriteByte(',')
		}
		WriteStableJSON(b, e)
	}
	b.WriteByte(']')
}

// StableJSONBytes returns the canonical JSON-like bytes for v.
func StableJSONBytes(v any) []byte {
	var b bytes.Buffer
	WriteStableJSON(&b, v)
	return b.Bytes()
}

// HashOf returns a deterministic SHA-256 hex digest of the canonical
// JSON-like form of v. Used to fingerprint task snapshots.
func HashOf(v any) string {
	sum := sha256.Sum256(StableJSONBytes(v))
	return hex.EncodeToString(sum[:])
}
