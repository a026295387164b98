package handler

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/InnokentiyKim/Retail/internal/domain/fault"
	"github.com/InnokentiyKim/Retail/internal/domain/pricing"
)

const maxBodyBytes = 1 << 20

// statusOf maps a failure kind to an HTTP status.
func statusOf(k fault.Kind) int {
	switch k {
	case fault.Validation:
		return http.StatusBadRequest
	case fault.NotFound:
		return http.StatusNotFound
	case fault.Conflict:
		return http.StatusConflict
	case fault.State:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeStatus(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(status)
		e.FieldStart("message")
		e.Str(msg)
		e.ObjEnd()
	})
}

// writeError renders err as {"code", "error", "message"} where error is the
// failure kind. Unclassified failures are logged and reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := fault.KindOf(err)
	status := statusOf(kind)
	if kind == fault.Internal {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	}
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(status)
		e.FieldStart("error")
		e.Str(kind.String())
		e.FieldStart("message")
		e.Str(fault.MessageOf(err))
		e.ObjEnd()
	})
}

// decodeObject reads the request body as one JSON object.
func decodeObject(r *http.Request, field func(d *jx.Decoder, key string) error) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	if err := jx.DecodeBytes(body).Obj(field); err != nil {
		return fault.Validationf("decode request", "malformed body: %v", err)
	}
	return nil
}

func decodeIDs(d *jx.Decoder) ([]int64, error) {
	var ids []int64
	err := d.Arr(func(d *jx.Decoder) error {
		v, err := d.Int64()
		ids = append(ids, v)
		return err
	})
	return ids, err
}

func decodeTime(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, s)
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fault.Validationf("parse path", "invalid %s %q", name, raw)
	}
	return id, nil
}

func money(e *jx.Encoder, d decimal.Decimal) {
	e.Str(d.StringFixed(pricing.Places))
}

func timestamp(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

func writeDeleted(w http.ResponseWriter, n int64) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("deleted")
		e.Int64(n)
		e.ObjEnd()
	})
}

// decodeIDList decodes {"ids": [...]}.
func decodeIDList(r *http.Request) ([]int64, error) {
	var ids []int64
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		if key != "ids" {
			return d.Skip()
		}
		var err error
		ids, err = decodeIDs(d)
		return err
	})
	return ids, err
}
