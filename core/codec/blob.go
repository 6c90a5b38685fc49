package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/sushant-115/gojodoc/core/document"
)

// EncodeBlob builds the persisted form of a document: the metadata as one
// JSON value, immediately followed by the JSON data after it went through
// the pipeline. There is no length prefix; the metadata value is
// self-delimiting.
func EncodeBlob(key string, data, metadata document.Document, p Pipeline) ([]byte, error) {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize metadata of %s: %w", key, err)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize data of %s: %w", key, err)
	}
	encoded, err := p.Encode(key, data, metadata, raw)
	if err != nil {
		return nil, err
	}

	blob := make([]byte, 0, len(meta)+len(encoded))
	blob = append(blob, meta...)
	return append(blob, encoded...), nil
}

// DecodeBlob reverses EncodeBlob. It consumes exactly one JSON value for the
// metadata and treats every remaining byte as pipeline output. Numbers decode
// as json.Number so they re-encode byte for byte.
func DecodeBlob(key string, blob []byte, p Pipeline) (metadata, data document.Document, err error) {
	dec := json.NewDecoder(bytes.NewReader(blob))
	dec.UseNumber()
	if err := dec.Decode(&metadata); err != nil {
		return nil, nil, fmt.Errorf("failed to read metadata of %s: %w", key, err)
	}

	raw, err := p.Decode(key, metadata, blob[dec.InputOffset():])
	if err != nil {
		return nil, nil, err
	}
	dataDec := json.NewDecoder(bytes.NewReader(raw))
	dataDec.UseNumber()
	if err := dataDec.Decode(&data); err != nil {
		return nil, nil, fmt.Errorf("failed to read data of %s: %w", key, err)
	}
	if dataDec.More() {
		return nil, nil, fmt.Errorf("failed to read data of %s: trailing bytes after document", key)
	}
	return metadata, data, nil
}
