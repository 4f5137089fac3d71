package controller

import (
	"fmt"
	"strconv"
	"strings"

	"judgebridge/internal/task/model"
	appErr "judgebridge/pkg/errors"
)

const defaultLanguageID = 71

// submissionExtras are engine fields copied verbatim when the caller sets them.
var submissionExtras = []string{
	"number_of_runs",
	"expected_output",
	"cpu_time_limit",
	"cpu_extra_time",
	"wall_time_limit",
	"memory_limit",
	"stack_limit",
	"max_processes_and_or_threads",
	"enable_per_process_and_thread_time_limit",
	"enable_per_process_and_thread_memory_limit",
	"max_file_size",
	"enable_network",
	"compiler_options",
	"command_line_arguments",
	"redirect_stderr_to_stdout",
}

// SubmitRequest is the parsed body of POST /api/submit. The body is accepted
// in snake_case or camelCase, so it is decoded by hand rather than bound.
type SubmitRequest struct {
	Payload     model.Payload
	QueryParams model.QueryParams
	NotifyMode  string
}

// SubmitResponse is returned on successful submission.
type SubmitResponse struct {
	Token string `json:"token"`
}

// parseSubmitRequest maps a raw JSON object to the engine payload and the
// query params that every later fetch of the submission reuses.
func parseSubmitRequest(raw map[string]any) (SubmitRequest, error) {
	sourceCode, _ := pickString(raw, "source_code", "sourceCode")
	if strings.TrimSpace(sourceCode) == "" {
		return SubmitRequest{}, appErr.ValidationError("source_code", "required")
	}

	languageID := defaultLanguageID
	if v, ok := pick(raw, "language_id", "languageId"); ok {
		id, err := toInt(v)
		if err != nil {
			return SubmitRequest{}, appErr.ValidationError("language_id", "must be an integer")
		}
		languageID = id
	}
	stdin, _ := pickString(raw, "stdin")

	payload := model.Payload{
		"language_id": languageID,
		"source_code": sourceCode,
		"stdin":       stdin,
	}
	for _, key := range submissionExtras {
		if v, ok := raw[key]; ok {
			payload[key] = v
		}
	}

	params := model.QueryParams{}
	if truthyAny(raw, "base64EncodedRequest", "base64_encoded_request", "base64_encoded") {
		params["base64_encoded"] = "true"
	}
	if fields, ok := pickString(raw, "fields"); ok && fields != "" {
		params["fields"] = fields
	}
	addCredential(params, raw, "authnHeader", "authnToken")
	addCredential(params, raw, "authzHeader", "authzToken")
	if truthyAny(raw, "wait", "waitResponse") {
		params["wait"] = "true"
	}

	mode, _ := pickString(raw, "notify_mode", "notifyMode")
	return SubmitRequest{Payload: payload, QueryParams: params, NotifyMode: mode}, nil
}

// addCredential forwards a caller supplied header/token pair as a query param.
func addCredential(params model.QueryParams, raw map[string]any, headerKey, tokenKey string) {
	header, _ := pickString(raw, headerKey)
	token, _ := pickString(raw, tokenKey)
	if header != "" && token != "" {
		params[header] = token
	}
}

func pick(raw map[string]any, keys ...string) (any, bool) {
	for _, key := range keys {
		if v, ok := raw[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func pickString(raw map[string]any, keys ...string) (string, bool) {
	v, ok := pick(raw, keys...)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func truthyAny(raw map[string]any, keys ...string) bool {
	for _, key := range keys {
		if truthy(raw[key]) {
			return true
		}
	}
	return false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "", "0", "false", "no", "off":
			return false
		default:
			return true
		}
	default:
		return false
	}
}

func toInt(v any) (int, error) {
	switch t := v.(type) {
	case float64:
		if t != float64(int(t)) {
			return 0, fmt.Errorf("not an integer: %v", t)
		}
		return int(t), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(t))
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
