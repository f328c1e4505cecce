// internal/database/values.go
package database

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	custom_errors "github-ingest/internal/errors"
	"github-ingest/internal/model"
)

// ColumnValue converts v for column of t, whose type is ct. A value that does
// not fit the column is reported as a malformed record, so the caller skips
// the record instead of failing the batch.
func ColumnValue(t model.Table, column string, ct model.ColumnType, v any) (any, error) {
	out, err := coerce(v, ct)
	if err != nil {
		return nil, &custom_errors.ErrMalformedRecord{Kind: t.Name, Reason: column + ": " + err.Error()}
	}
	return out, nil
}

// coerce converts a normalized record value into a parameter for a column
// of type ct.
func coerce(v any, ct model.ColumnType) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch ct {
	case model.JSON:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return json.RawMessage(b), nil

	case model.Text:
		switch t := v.(type) {
		case string:
			return t, nil
		case model.Record, map[string]any, []any:
			b, err := json.Marshal(t)
			if err != nil {
				return nil, err
			}
			return string(b), nil
		case []byte:
			return string(t), nil
		default:
			return fmt.Sprint(t), nil
		}

	case model.BigInt:
		switch t := v.(type) {
		case int64:
			return t, nil
		case int:
			return int64(t), nil
		case float64:
			if t == math.Trunc(t) {
				return int64(t), nil
			}
		case bool:
			if t {
				return int64(1), nil
			}
			return int64(0), nil
		case string:
			if i, err := strconv.ParseInt(t, 10, 64); err == nil {
				return i, nil
			}
		}

	case model.Float:
		switch t := v.(type) {
		case float64:
			return t, nil
		case int64:
			return float64(t), nil
		case int:
			return float64(t), nil
		case string:
			if f, err := strconv.ParseFloat(t, 64); err == nil {
				return f, nil
			}
		}

	case model.Bool:
		switch t := v.(type) {
		case bool:
			return t, nil
		case string:
			if b, err := strconv.ParseBool(t); err == nil {
				return b, nil
			}
		}

	case model.Bytes:
		switch t := v.(type) {
		case []byte:
			return t, nil
		case string:
			return []byte(t), nil
		}

	default:
		return v, nil
	}
	return nil, fmt.Errorf("cannot store %T as %s", v, ct)
}

// EncodeFloat32Blob packs a vector as little-endian float32 values.
func EncodeFloat32Blob(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// DecodeFloat32Blob is the inverse of EncodeFloat32Blob.
func DecodeFloat32Blob(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out, nil
}
