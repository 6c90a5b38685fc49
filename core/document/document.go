// Package document holds the JSON-like values stored by gojodoc and the
// read-side view of a stored document.
package document

import (
	"time"

	"github.com/google/uuid"
)

// Document is a JSON object. Values follow encoding/json conventions
// (nested objects as map[string]interface{}). Documents read back from
// storage carry numbers as json.Number.
type Document map[string]interface{}

// JSONDocument is a document as returned to readers, either committed or
// staged by the reader's own transaction.
type JSONDocument struct {
	Key          string
	Etag         uuid.UUID
	LastModified time.Time
	Metadata     Document
	Data         Document
	// NonAuthoritative is set when another live transaction has pending
	// changes to this document that the reader cannot see.
	NonAuthoritative bool
}
