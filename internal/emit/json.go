// Package emit writes pipeline output to the blob store: one JSON document per
// submission, or one parquet table per archive member.
package emit

import (
	"bytes"
	"context"
	"math"

	jsoniter "github.com/json-iterator/go"
	"github.com/rotisserie/eris"

	"github.com/sells-group/secfin/internal/blob"
	"github.com/sells-group/secfin/internal/fsds"
	"github.com/sells-group/secfin/internal/fsds/classify"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONEmitter writes financial documents to JSON_Conversion/{year}/q{quarter}/{adsh}.json.
type JSONEmitter struct {
	store blob.Store
}

// NewJSONEmitter returns an emitter writing to store.
func NewJSONEmitter(store blob.Store) *JSONEmitter {
	return &JSONEmitter{store: store}
}

// Emit encodes doc and writes it, replacing any previous document for adsh.
// It returns the blob key and encoded size.
func (e *JSONEmitter) Emit(ctx context.Context, p fsds.Partition, adsh string, doc *classify.FinancialDocument) (string, int, error) {
	data, err := EncodeDocument(doc)
	if err != nil {
		return "", 0, eris.Wrapf(err, "emit: encode %s", adsh)
	}
	key := p.JSONKey(adsh)
	if err := e.store.Put(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		return "", 0, eris.Wrapf(err, "emit: put %s", key)
	}
	return key, len(data), nil
}

// EncodeDocument renders doc as compact JSON. Non-finite values become 0 so
// the output never carries NaN or Infinity tokens.
func EncodeDocument(doc *classify.FinancialDocument) ([]byte, error) {
	if doc == nil {
		return nil, eris.New("emit: nil document")
	}
	for _, bucket := range [][]classify.Record{doc.Data.BS, doc.Data.CF, doc.Data.IC} {
		for i := range bucket {
			if math.IsNaN(bucket[i].Value) || math.IsInf(bucket[i].Value, 0) {
				bucket[i].Value = 0
			}
		}
	}
	return jsonAPI.Marshal(doc)
}

// DecodeDocument parses a stored document.
func DecodeDocument(data []byte) (*classify.FinancialDocument, error) {
	var doc classify.FinancialDocument
	if err := jsonAPI.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "emit: decode document")
	}
	return &doc, nil
}
