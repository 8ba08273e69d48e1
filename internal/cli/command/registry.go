package command

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	commands := []Command{
		{
			Service: "id",
			Action:  "encode",
			Usage:   "id encode ts=1700000000000 problem_id=7 contest_id=42 user_id=<uuid>",
			Fields: []Field{
				{Name: "ts", Aliases: []string{"timestamp"}, Prompt: "ts (unix millis, RFC3339 or now)", Type: FieldString, Required: false},
				{Name: "problem_id", Aliases: []string{"problem"}, Prompt: "problem_id", Type: FieldInt64, Required: true},
				{Name: "contest_id", Aliases: []string{"contest"}, Prompt: "contest_id", Type: FieldInt64, Required: false},
				{Name: "user_id", Aliases: []string{"user"}, Prompt: "user_id", Type: FieldString, Required: false},
			},
			Local: encodeID,
		},
		{
			Service: "id",
			Action:  "decode",
			Usage:   "id decode id=<decimal|submission:decimal|0xhex> [layout=canonical|legacy]",
			Fields: []Field{
				{Name: "id", Prompt: "submission_id", Type: FieldString, Required: true},
				{Name: "layout", Prompt: "layout", Type: FieldString, Required: false},
			},
			Local: decodeID,
		},
		{
			Service: "verdict",
			Action:  "reduce",
			Usage:   "verdict reduce tests=\"1:accepted,2:wrong_answer\" [prepare_ok=false]",
			Fields: []Field{
				{Name: "tests", Prompt: "tests (id:status, comma-separated)", Type: FieldString, Required: false},
				{Name: "tests_file", Prompt: "tests_file (JSON array)", Type: FieldFile, Required: false},
				{Name: "prepare_ok", Aliases: []string{"prepare"}, Prompt: "prepare_ok", Type: FieldString, Required: false},
			},
			Local: func(params Params) (interface{}, error) {
				if path := params.Get("tests_file"); path != "" {
					data, err := ReadFile(path)
					if err != nil {
						return nil, err
					}
					params.Set("tests", data)
				}
				return reduceVerdict(params)
			},
		},
		{
			Service: "verdict",
			Action:  "checker",
			Usage:   "verdict checker exit_code=1 [checker=testlib|cmp]",
			Fields: []Field{
				{Name: "exit_code", Aliases: []string{"code"}, Prompt: "exit_code", Type: FieldInt64, Required: true},
				{Name: "checker", Prompt: "checker", Type: FieldString, Required: false},
			},
			Local: checkerVerdict,
		},
		{
			Service:      "submit",
			Action:       "create",
			Usage:        "submit create problem_id=1 language_id=cpp source_file=./main.cpp",
			Method:       "POST",
			PathTemplate: "/api/v1/submissions",
			Fields: []Field{
				{Name: "problem_id", Prompt: "problem_id", Type: FieldInt64, Required: true},
				{Name: "user_id", Prompt: "user_id", Type: FieldString, Required: true},
				{Name: "language_id", Aliases: []string{"lang"}, Prompt: "language_id", Type: FieldString, Required: true},
				{Name: "source_code", Prompt: "source_code", Type: FieldString, Required: true},
				{Name: "contest_id", Prompt: "contest_id", Type: FieldInt64, Required: false},
				{Name: "scene", Prompt: "scene", Type: FieldString, Required: false},
				{Name: "extra_compile_flags", Prompt: "extra_compile_flags (comma-separated)", Type: FieldStringList, Required: false},
				{Name: "idempotency_key", Prompt: "idempotency_key", Type: FieldString, Required: false},
				{Name: "source_file", Prompt: "source_file", Type: FieldFile, Required: false},
			},
		},
		{
			Service:      "submit",
			Action:       "status",
			Method:       "GET",
			PathTemplate: "/api/v1/submissions/:id",
			Fields: []Field{
				{Name: "id", Prompt: "submission_id", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "submit",
			Action:       "batch-status",
			Method:       "POST",
			PathTemplate: "/api/v1/submissions/batch_status",
			Fields: []Field{
				{Name: "submission_ids", Aliases: []string{"ids"}, Prompt: "submission_ids (comma-separated)", Type: FieldStringList, Required: true},
			},
		},
		{
			Service:      "submit",
			Action:       "source",
			Method:       "GET",
			PathTemplate: "/api/v1/submissions/:id/source",
			Fields: []Field{
				{Name: "id", Prompt: "submission_id", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "submit",
			Action:       "identity",
			Method:       "GET",
			PathTemplate: "/api/v1/submissions/:id/identity",
			Fields: []Field{
				{Name: "id", Prompt: "submission_id", Type: FieldString, Required: true},
				{Name: "layout", Prompt: "layout", Type: FieldString, Required: false},
			},
		},
		{
			Service:      "judge",
			Action:       "status",
			Method:       "GET",
			PathTemplate: "/api/v1/judge/status/:id",
			Fields: []Field{
				{Name: "id", Prompt: "submission_id", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "judge",
			Action:       "outputs",
			Method:       "GET",
			PathTemplate: "/api/v1/judge/status/:id/outputs",
			Fields: []Field{
				{Name: "id", Prompt: "submission_id", Type: FieldString, Required: true},
			},
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Key()] = cmd
	}
	return result
}

// SortedKeys returns registry keys in order, for help and completion.
func SortedKeys(commands map[string]Command) []string {
	keys := make([]string, 0, len(commands))
	for key := range commands {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// BuildRequest creates HTTP request spec based on command.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	if cmd.Local != nil {
		return RequestSpec{}, fmt.Errorf("command %s runs locally", cmd.Key())
	}
	params.Canonicalize(cmd.Fields)
	path, err := buildPath(cmd.PathTemplate, params)
	if err != nil {
		return RequestSpec{}, err
	}
	if cmd.Service == "submit" && cmd.Action == "identity" && params.Get("layout") != "" {
		path += "?layout=" + url.QueryEscape(params.Get("layout"))
	}

	headers := map[string]string{}
	if cmd.Service == "submit" && cmd.Action == "create" {
		headers["Idempotency-Key"] = params.Get("idempotency_key")
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
		Method:  cmd.Method,
		Path:    path,
		Headers: headers,
		Body:    body,
	}, nil
}

// RunLocal evaluates a local command.
func RunLocal(cmd Command, params Params) (interface{}, error) {
	if cmd.Local == nil {
		return nil, fmt.Errorf("command %s needs a server", cmd.Key())
	}
	params.Canonicalize(cmd.Fields)
	return cmd.Local(params)
}

func buildPath(template string, params Params) (string, error) {
	path := template
	if strings.Contains(path, ":id") {
		value := strings.TrimSpace(params.Get("id"))
		if value == "" {
			return "", fmt.Errorf("missing path parameter: id")
		}
		path = strings.ReplaceAll(path, ":id", url.PathEscape(value))
	}
	return path, nil
}

func buildPayload(cmd Command, params Params) (interface{}, error) {
	if cmd.Service != "submit" {
		return nil, nil
	}
	switch cmd.Action {
	case "create":
		return buildSubmitCreatePayload(params)
	case "batch-status":
		return map[string]interface{}{
			"submission_ids": ParseStringList(params.Get("submission_ids")),
		}, nil
	}
	return nil, nil
}

func buildSubmitCreatePayload(params Params) (interface{}, error) {
	problemID, err := ParseInt64(params.Get("problem_id"))
	if err != nil {
		return nil, fmt.Errorf("invalid problem_id: %w", err)
	}

	sourceCode := params.Get("source_code")
	if (sourceCode == "" || sourceCode == "_file_") && params.Get("source_file") != "" {
		sourceCode, err = ReadFile(params.Get("source_file"))
		if err != nil {
			return nil, err
		}
	}
	if sourceCode == "" || sourceCode == "_file_" {
		return nil, fmt.Errorf("source_code is required")
	}

	payload := map[string]interface{}{
		"problem_id":  problemID,
		"user_id":     params.Get("user_id"),
		"language_id": params.Get("language_id"),
		"source_code": sourceCode,
	}
	if params.Get("contest_id") != "" {
		contestID, err := ParseInt64(params.Get("contest_id"))
		if err != nil {
			return nil, fmt.Errorf("invalid contest_id: %w", err)
		}
		payload["contest_id"] = contestID
	}
	if params.Get("scene") != "" {
		payload["scene"] = params.Get("scene")
	}
	if params.Get("extra_compile_flags") != "" {
		payload["extra_compile_flags"] = ParseStringList(params.Get("extra_compile_flags"))
	}
	return payload, nil
}
