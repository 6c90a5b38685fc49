// Package codec implements the reversible byte transforms applied to a
// document payload before it is persisted, and the staged blob layout.
package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"

	"github.com/sushant-115/gojodoc/core/document"
	"github.com/sushant-115/gojodoc/core/security/encryption"
)

// DocumentCodec transforms the serialized data of one document. Decode must
// invert Encode for the same key and metadata.
type DocumentCodec interface {
	Encode(key string, data, metadata document.Document, b []byte) ([]byte, error)
	Decode(key string, metadata document.Document, b []byte) ([]byte, error)
}

// Pipeline is an ordered list of codecs. Encode runs left to right, Decode
// right to left. The zero value is the identity transform.
type Pipeline []DocumentCodec

// Encode passes b through every codec in order; each codec sees the output
// of the previous one.
func (p Pipeline) Encode(key string, data, metadata document.Document, b []byte) ([]byte, error) {
	var err error
	for i, c := range p {
		b, err = c.Encode(key, data, metadata, b)
		if err != nil {
			return nil, fmt.Errorf("codec %d failed to encode %s: %w", i, key, err)
		}
	}
	return b, nil
}

// Decode undoes Encode.
func (p Pipeline) Decode(key string, metadata document.Document, b []byte) ([]byte, error) {
	var err error
	for i := len(p) - 1; i >= 0; i-- {
		b, err = p[i].Decode(key, metadata, b)
		if err != nil {
			return nil, fmt.Errorf("codec %d failed to decode %s: %w", i, key, err)
		}
	}
	return b, nil
}

// LZ4 compresses payloads using the lz4 frame format.
type LZ4 struct{}

func (LZ4) Encode(_ string, _, _ document.Document, b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (LZ4) Decode(_ string, _ document.Document, b []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(b)))
}

// Encryption seals payloads with AES-GCM. The document key is used as
// additional data, so a payload cannot be replayed under another key.
type Encryption struct {
	Sealer *encryption.Sealer
}

func (e Encryption) Encode(key string, _, _ document.Document, b []byte) ([]byte, error) {
	return e.Sealer.Seal(b, []byte(key))
}

func (e Encryption) Decode(key string, _ document.Document, b []byte) ([]byte, error) {
	return e.Sealer.Open(b, []byte(key))
}
