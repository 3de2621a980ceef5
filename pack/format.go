package pack

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// location records where a value lives inside a sealed pack body.
type location struct {
	Offset int64
	Length int64
}

// buildBody assembles a pack body from values in insertion order, per
// spec.md §6: concatenated length-prefixed JSON values, a trailing JSON
// index (value hash -> [offset,length]), and an 8-byte little-endian
// trailer giving the index's start offset. Grounded on
// nasdf-capy/codec/encoder.go's length-prefixed framing
// (kind byte + uint64 length + payload), adapted here to raw JSON bytes
// with no type tag since a pack only ever holds JSON values.
func buildBody(order []string, values map[string][]byte) ([]byte, map[string]location, error) {
	body := make([]byte, 0, 4096)
	locations := make(map[string]location, len(order))

	for _, hash := range order {
		data := values[hash]
		body = appendUint64(body, uint64(len(data)))
		valueOffset := int64(len(body))
		body = append(body, data...)
		locations[hash] = location{Offset: valueOffset, Length: int64(len(data))}
	}

	index := make(map[string][2]int64, len(locations))
	for hash, loc := range locations {
		index[hash] = [2]int64{loc.Offset, loc.Length}
	}
	indexJSON, err := json.Marshal(index)
	if err != nil {
		return nil, nil, fmt.Errorf("pack: encode index: %w", err)
	}
	indexOffset := int64(len(body))
	body = append(body, indexJSON...)
	body = appendUint64(body, uint64(indexOffset))

	return body, locations, nil
}

// parseIndex extracts the trailing index from a full pack body.
func parseIndex(body []byte) (map[string]location, error) {
	if len(body) < 8 {
		return nil, fmt.Errorf("pack: body too short for trailer")
	}
	trailer := body[len(body)-8:]
	indexOffset := binary.LittleEndian.Uint64(trailer)
	if int64(indexOffset) < 0 || int(indexOffset) > len(body)-8 {
		return nil, fmt.Errorf("pack: invalid trailer offset")
	}
	indexJSON := body[indexOffset : len(body)-8]

	var raw map[string][2]int64
	if err := json.Unmarshal(indexJSON, &raw); err != nil {
		return nil, fmt.Errorf("pack: decode index: %w", err)
	}
	out := make(map[string]location, len(raw))
	for hash, pair := range raw {
		out[hash] = location{Offset: pair[0], Length: pair[1]}
	}
	return out, nil
}

func appendUint64(dst []byte, v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return append(dst, buf[:]...)
}
