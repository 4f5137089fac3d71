// Package codec implements the best-effort base64 handling of engine output fields.
package codec

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"

	"judgebridge/internal/task/model"
)

// OutputFields are the engine fields that carry base64 text when the submission
// was created with base64_encoded=true.
var OutputFields = []string{"stdout", "stderr", "compile_output"}

// MaybeDecode returns the decoded text of s when s, stripped of surrounding
// whitespace, is valid padded standard base64 of UTF-8 text. Otherwise s is
// returned unchanged, including its whitespace.
func MaybeDecode(s string) string {
	trimmed := strings.TrimSpace(s)
	decoded, err := base64.StdEncoding.Strict().DecodeString(trimmed)
	if err != nil || !utf8.Valid(decoded) {
		return s
	}
	return string(decoded)
}

// DecodeOutputs returns a copy of payload in which every string output field is
// replaced by its decoded text. Each field also gets a decoded_<field> entry,
// and raw_<field> keeps the original text when decoding changed it.
func DecodeOutputs(payload model.Payload) model.Payload {
	if payload == nil {
		return nil
	}
	out := payload.Clone()
	for _, field := range OutputFields {
		raw, ok := out.String(field)
		if !ok {
			continue
		}
		decoded := MaybeDecode(raw)
		out["decoded_"+field] = decoded
		out[field] = decoded
		if decoded != raw {
			out["raw_"+field] = raw
		}
	}
	return out
}

// DecodedView is the read-side variant: it fills decoded_<field> for every
// output field, using an empty string for missing or null ones, and rewrites
// the present fields with their decoded text. Fields already decoded on the
// write side are not decoded twice. The input is not modified.
func DecodedView(payload model.Payload) model.Payload {
	if payload == nil {
		return nil
	}
	out := payload.Clone()
	for _, field := range OutputFields {
		if decoded, ok := out.String("decoded_" + field); ok {
			out[field] = decoded
			continue
		}
		raw, ok := out.String(field)
		if !ok {
			if _, exists := out["decoded_"+field]; !exists {
				out["decoded_"+field] = ""
			}
			continue
		}
		decoded := MaybeDecode(raw)
		out["decoded_"+field] = decoded
		out[field] = decoded
	}
	return out
}
