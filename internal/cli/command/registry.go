package command

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Registry returns all CLI commands keyed by "group action".
func Registry() map[string]Command {
	commands := []Command{
		{
			Group:        "task",
			Action:       "submit",
			Method:       "POST",
			PathTemplate: "/api/submit",
			Usage:        "task submit source_file=./main.py language_id=71 stdin=\"1 2\" notify_mode=poll",
			Fields: []Field{
				{Name: "source_code", Aliases: []string{"code"}, Prompt: "source_code", Type: FieldString, Required: true},
				{Name: "source_file", Aliases: []string{"file"}, Prompt: "source_file", Type: FieldFile},
				{Name: "language_id", Aliases: []string{"lang"}, Prompt: "language_id", Type: FieldInt},
				{Name: "stdin", Prompt: "stdin", Type: FieldString},
				{Name: "stdin_file", Prompt: "stdin_file", Type: FieldFile},
				{Name: "expected_output", Prompt: "expected_output", Type: FieldString},
				{Name: "notify_mode", Aliases: []string{"mode"}, Prompt: "notify_mode", Type: FieldString},
				{Name: "base64_encoded", Aliases: []string{"base64"}, Prompt: "base64_encoded", Type: FieldBool},
				{Name: "wait", Prompt: "wait", Type: FieldBool},
			},
		},
		{
			Group:        "task",
			Action:       "result",
			Method:       "GET",
			PathTemplate: "/api/result/:token",
			Usage:        "task result [token=<token>] [auto_decode=false]",
			Fields: []Field{
				{Name: "token", Prompt: "token", Type: FieldString, Required: true},
				{Name: "auto_decode", Aliases: []string{"decode"}, Prompt: "auto_decode", Type: FieldBool, Query: true},
			},
		},
		{
			Group:        "task",
			Action:       "list",
			Method:       "GET",
			PathTemplate: "/api/tasks",
			Usage:        "task list [limit=10]",
			Fields: []Field{
				{Name: "limit", Prompt: "limit", Type: FieldInt, Query: true},
			},
		},
		{
			Group:        "engine",
			Action:       "languages",
			Method:       "GET",
			PathTemplate: "/api/languages",
			Usage:        "engine languages",
		},
		{
			Group:        "bridge",
			Action:       "health",
			Method:       "GET",
			PathTemplate: "/healthz",
			Usage:        "bridge health",
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Key()] = cmd
	}
	return result
}

// Usages lists the usage lines of commands in key order.
func Usages(commands map[string]Command) []string {
	keys := make([]string, 0, len(commands))
	for key := range commands {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, commands[key].Usage)
	}
	return out
}

// RequestSpec is the built HTTP request.
type RequestSpec struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
}

// BuildRequest turns a command and its params into an HTTP request.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	path, err := buildPath(cmd.PathTemplate, params)
	if err != nil {
		return RequestSpec{}, err
	}
	query, err := buildQuery(cmd.Fields, params)
	if err != nil {
		return RequestSpec{}, err
	}

	var body []byte
	if cmd.Method != "GET" && cmd.Method != "DELETE" {
		payload, err := buildPayload(cmd, params)
		if err != nil {
			return RequestSpec{}, err
		}
		if payload != nil {
			body, err = json.Marshal(payload)
			if err != nil {
				return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
			}
		}
	}

	return RequestSpec{
		Method: cmd.Method,
		Path:   path,
		Query:  query,
		Body:   body,
	}, nil
}

func buildPath(template string, params Params) (string, error) {
	path := template
	for _, key := range []string{"token"} {
		placeholder := ":" + key
		if strings.Contains(path, placeholder) {
			value := params.Get(key)
			if value == "" {
				return "", fmt.Errorf("missing path parameter: %s", key)
			}
			path = strings.ReplaceAll(path, placeholder, url.PathEscape(value))
		}
	}
	return path, nil
}

func buildQuery(fields []Field, params Params) (url.Values, error) {
	query := url.Values{}
	for _, field := range fields {
		if !field.Query || params.Get(field.Name) == "" {
			continue
		}
		value := params.Get(field.Name)
		switch field.Type {
		case FieldInt:
			if _, err := ParseInt(value); err != nil {
				return nil, fmt.Errorf("invalid %s: %w", field.Name, err)
			}
		case FieldBool:
			if _, err := ParseBool(value); err != nil {
				return nil, fmt.Errorf("invalid %s: %w", field.Name, err)
			}
		}
		query.Set(field.Name, value)
	}
	return query, nil
}

func buildPayload(cmd Command, params Params) (interface{}, error) {
	if cmd.Key() == "task submit" {
		return buildSubmitPayload(params)
	}
	return nil, nil
}

func buildSubmitPayload(params Params) (interface{}, error) {
	sourceCode, err := valueOrFile(params, "source_code", "source_file")
	if err != nil {
		return nil, err
	}
	if sourceCode == "" {
		return nil, fmt.Errorf("source_code is required")
	}
	payload := map[string]interface{}{
		"source_code": sourceCode,
	}

	if raw := params.Get("language_id"); raw != "" {
		languageID, err := ParseInt(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid language_id: %w", err)
		}
		payload["language_id"] = languageID
	}
	stdin, err := valueOrFile(params, "stdin", "stdin_file")
	if err != nil {
		return nil, err
	}
	if stdin != "" {
		payload["stdin"] = stdin
	}
	if v := params.Get("expected_output"); v != "" {
		payload["expected_output"] = v
	}
	if v := params.Get("notify_mode"); v != "" {
		payload["notify_mode"] = v
	}
	for _, name := range []string{"base64_encoded", "wait"} {
		raw := params.Get(name)
		if raw == "" {
			continue
		}
		flag, err := ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", name, err)
		}
		payload[name] = flag
	}
	return payload, nil
}

func valueOrFile(params Params, key, fileKey string) (string, error) {
	value := params.Get(key)
	if (value == "" || value == FromFile) && params.Get(fileKey) != "" {
		return ReadFile(params.Get(fileKey))
	}
	if value == FromFile {
		return "", nil
	}
	return value, nil
}

// FromFile marks a required value that will be read from its companion file field.
const FromFile = "_file_"
