package handler

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// maxBodySize caps request bodies.
const maxBodySize = 1 << 20

// requestError is a malformed request that never reached the domain layer.
type requestError struct {
	field string
	msg   string
}

func (e *requestError) Error() string {
	if e.field == "" {
		return e.msg
	}
	return e.field + ": " + e.msg
}

func badRequest(field, msg string) error {
	return &requestError{field: field, msg: msg}
}

// decodeBody decodes a JSON object body field by field. An empty body is
// treated as an empty object.
func decodeBody(w http.ResponseWriter, r *http.Request, field func(d *jx.Decoder, key string) error) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return badRequest("", "request body too large or unreadable")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	err = jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		return field(d, string(key))
	})
	if err != nil {
		var re *requestError
		if errors.As(err, &re) {
			return re
		}
		return badRequest("", "malformed JSON body")
	}
	return nil
}

// writeJSON writes a JSON response built by enc.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, enc func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	enc(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(e.Bytes()); err != nil {
		zctx.From(r.Context()).Debug("Write response", zap.Error(err))
	}
}

func encodeMoney(e *jx.Encoder, d decimal.Decimal) {
	e.Raw([]byte(d.StringFixed(2)))
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeOptTime(e *jx.Encoder, t *time.Time) {
	if t == nil {
		e.Null()
		return
	}
	encodeTime(e, *t)
}

func field(e *jx.Encoder, name string, enc func(e *jx.Encoder)) {
	e.FieldStart(name)
	enc(e)
}
