package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/ethpandaops/flakeoor/pkg/detector"
	"github.com/mitchellh/mapstructure"
)

// timestampLayouts are tried in order for string timestamps. Layouts
// without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02",
}

// ParseTimestamp parses the timestamp forms found in CI exports.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)

	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// timestampHook converts strings and unix seconds into time.Time.
func timestampHook(from, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(time.Time{}) {
		return data, nil
	}

	switch v := data.(type) {
	case string:
		return ParseTimestamp(v)
	case json.Number:
		secs, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid unix timestamp %q", v)
		}

		return unixSeconds(secs), nil
	case float64:
		return unixSeconds(v), nil
	case int64:
		return time.Unix(v, 0).UTC(), nil
	}

	return data, nil
}

func unixSeconds(secs float64) time.Time {
	whole := int64(secs)

	return time.Unix(whole, int64((secs-float64(whole))*1e9)).UTC()
}

// numberHook turns json.Number into a value mapstructure's weak decoding
// understands, so "1.5" is rejected for integer fields instead of being
// truncated.
func numberHook(from, to reflect.Type, data any) (any, error) {
	n, ok := data.(json.Number)
	if !ok {
		return data, nil
	}

	switch to.Kind() {
	case reflect.Int, reflect.Int64, reflect.Int32:
		i, err := strconv.ParseInt(n.String(), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("expected an integer, got %s", n)
		}

		return i, nil
	case reflect.String:
		return n.String(), nil
	}

	return data, nil
}

// decodeRecord maps a loosely typed item onto an ExecutionRecord. Strings
// are accepted for numeric fields. Unknown keys are ignored.
func decodeRecord(item any) (detector.ExecutionRecord, error) {
	var rec detector.ExecutionRecord

	if _, ok := item.(map[string]any); !ok {
		return rec, fmt.Errorf("expected an object, got %T", item)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &rec,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			numberHook,
			timestampHook,
		),
	})
	if err != nil {
		return rec, fmt.Errorf("creating record decoder: %w", err)
	}

	if err := decoder.Decode(item); err != nil {
		return rec, err
	}

	return rec, nil
}

// decodeError converts a mapstructure failure into an IngestionError,
// naming the field when mapstructure reports exactly one.
func decodeError(source string, row int, err error) *IngestionError {
	ierr := &IngestionError{Source: source, Row: row, Err: err}

	var merr *mapstructure.Error
	if !errors.As(err, &merr) || len(merr.Errors) != 1 {
		return ierr
	}

	msg := merr.Errors[0]
	ierr.Err = errors.New(msg)

	// mapstructure quotes the field name: "cannot parse 'build_number' as int".
	if start := strings.Index(msg, "'"); start >= 0 {
		if end := strings.Index(msg[start+1:], "'"); end > 0 {
			ierr.Field = msg[start+1 : start+1+end]
		}
	}

	return ierr
}
