package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sushant-115/gojodoc/core/document"
	"github.com/sushant-115/gojodoc/core/security/encryption"
)

// recordingCodec appends a marker on encode and strips it on decode, and
// remembers the order it was called in.
type recordingCodec struct {
	marker string
	calls  *[]string
}

func (c recordingCodec) Encode(key string, _, _ document.Document, b []byte) ([]byte, error) {
	*c.calls = append(*c.calls, "enc:"+c.marker+":"+key)
	return append(append([]byte{}, b...), c.marker...), nil
}

func (c recordingCodec) Decode(key string, _ document.Document, b []byte) ([]byte, error) {
	*c.calls = append(*c.calls, "dec:"+c.marker+":"+key)
	if !bytes.HasSuffix(b, []byte(c.marker)) {
		return nil, errors.New("missing marker " + c.marker)
	}
	return b[:len(b)-len(c.marker)], nil
}

func newSealer(t *testing.T) *encryption.Sealer {
	t.Helper()
	s, err := encryption.NewSealer(bytes.Repeat([]byte{7}, 16))
	require.NoError(t, err)
	return s
}

func TestPipeline_Order(t *testing.T) {
	var calls []string
	p := Pipeline{recordingCodec{"A", &calls}, recordingCodec{"B", &calls}}

	out, err := p.Encode("k", nil, nil, []byte("x"))
	require.NoError(t, err)
	require.Equal(t, "xAB", string(out))

	back, err := p.Decode("k", nil, out)
	require.NoError(t, err)
	require.Equal(t, "x", string(back))

	require.Equal(t, []string{"enc:A:k", "enc:B:k", "dec:B:k", "dec:A:k"}, calls)
}

func TestPipeline_DecodeErrorNamesKey(t *testing.T) {
	var calls []string
	p := Pipeline{recordingCodec{"A", &calls}}

	_, err := p.Decode("orders/1", nil, []byte("no marker"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "orders/1")
}

func TestBlob_RoundTrip(t *testing.T) {
	metadata := document.Document{"Raven-Entity-Name": "Orders", "nested": map[string]interface{}{"a": true}}
	data := document.Document{"customer": "ayende", "total": json.Number("12.5"), "lines": []interface{}{"a", "b"}}

	cases := map[string]Pipeline{
		"identity":    nil,
		"lz4":         {LZ4{}},
		"encrypted":   {Encryption{Sealer: newSealer(t)}},
		"lz4+encrypt": {LZ4{}, Encryption{Sealer: newSealer(t)}},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			blob, err := EncodeBlob("orders/1", data, metadata, p)
			require.NoError(t, err)

			gotMeta, gotData, err := DecodeBlob("orders/1", blob, p)
			require.NoError(t, err)
			require.Equal(t, metadata, gotMeta)
			require.Equal(t, data, gotData)
		})
	}
}

func TestBlob_LayoutIsMetadataThenData(t *testing.T) {
	blob, err := EncodeBlob("k", document.Document{"v": "d"}, document.Document{"m": "x"}, nil)
	require.NoError(t, err)
	require.Equal(t, `{"m":"x"}{"v":"d"}`, string(blob))
}

func TestBlob_NilMetadata(t *testing.T) {
	blob, err := EncodeBlob("k", document.Document{"v": "d"}, nil, Pipeline{LZ4{}})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(blob), "null"))

	meta, data, err := DecodeBlob("k", blob, Pipeline{LZ4{}})
	require.NoError(t, err)
	require.Nil(t, meta)
	require.Equal(t, document.Document{"v": "d"}, data)
}

func TestBlob_EncryptedUnderOtherKeyFails(t *testing.T) {
	p := Pipeline{Encryption{Sealer: newSealer(t)}}
	blob, err := EncodeBlob("orders/1", document.Document{"v": "d"}, document.Document{}, p)
	require.NoError(t, err)

	_, _, err = DecodeBlob("orders/2", blob, p)
	require.Error(t, err)
}

func TestBlob_CorruptMetadata(t *testing.T) {
	_, _, err := DecodeBlob("k", []byte(`{"m":`), nil)
	require.Error(t, err)
}

func TestBlob_LargeIntegersKeepPrecision(t *testing.T) {
	data := document.Document{"id": int64(9007199254740993)}
	metadata := document.Document{"seq": uint64(18446744073709551615)}

	for name, p := range map[string]Pipeline{"identity": nil, "lz4": {LZ4{}}} {
		t.Run(name, func(t *testing.T) {
			blob, err := EncodeBlob("k", data, metadata, p)
			require.NoError(t, err)

			gotMeta, gotData, err := DecodeBlob("k", blob, p)
			require.NoError(t, err)
			require.Equal(t, json.Number("9007199254740993"), gotData["id"])
			require.Equal(t, json.Number("18446744073709551615"), gotMeta["seq"])

			// decoded values encode back to the same bytes
			again, err := EncodeBlob("k", gotData, gotMeta, nil)
			require.NoError(t, err)
			require.Equal(t, `{"seq":18446744073709551615}{"id":9007199254740993}`, string(again))
		})
	}
}

func TestBlob_TrailingDataRejected(t *testing.T) {
	_, _, err := DecodeBlob("k", []byte(`{}{"a":1}{"b":2}`), nil)
	require.Error(t, err)
}
