package command

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ojsubmit/internal/judge/result"
	"ojsubmit/pkg/submissionid"

	"github.com/google/uuid"
)

func encodeID(params Params) (interface{}, error) {
	ts, err := parseTimestamp(params.Get("ts"))
	if err != nil {
		return nil, err
	}
	problemID, err := ParseUint(params.Get("problem_id"), 32)
	if err != nil {
		return nil, fmt.Errorf("invalid problem_id: %w", err)
	}
	var contestID *uint32
	if raw := params.Get("contest_id"); raw != "" {
		v, err := ParseUint(raw, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid contest_id: %w", err)
		}
		c := uint32(v)
		contestID = &c
	}
	submitter := uuid.Nil
	if raw := params.Get("user_id"); raw != "" {
		if submitter, err = uuid.Parse(raw); err != nil {
			return nil, fmt.Errorf("invalid user_id: %w", err)
		}
	}
	id := submissionid.Encode(ts, uint32(problemID), contestID, submitter)
	return map[string]string{
		"submission_id": id.String(),
		"resource_key":  id.ResourceKey(),
		"hex":           "0x" + hex.EncodeToString(id.Bytes()),
	}, nil
}

// parseIDArg accepts the decimal form, a "submission:<decimal>" resource
// key or 0x followed by the 16 big-endian bytes in hex.
func parseIDArg(raw string) (submissionid.ID, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(raw, "0x"):
		b, err := hex.DecodeString(raw[2:])
		if err != nil {
			return submissionid.Zero, fmt.Errorf("invalid hex id: %w", err)
		}
		return submissionid.FromBytes(b)
	case strings.Contains(raw, ":"):
		return submissionid.ParseResourceKey(raw)
	default:
		return submissionid.Parse(raw)
	}
}

func decodeID(params Params) (interface{}, error) {
	layout, err := submissionid.LayoutByName(params.Get("layout"))
	if err != nil {
		return nil, err
	}
	id, err := parseIDArg(params.Get("id"))
	if err != nil {
		return nil, err
	}
	fields, err := layout.Decode(id)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"submission_id": id.String(),
		"layout":        layout.Name,
		"timestamp":     fields.Timestamp,
		"time":          time.UnixMilli(int64(fields.Timestamp)).UTC().Format(time.RFC3339Nano),
		"contest_id":    fields.ContestID,
		"problem_id":    fields.ProblemID,
		"entropy":       fields.Entropy,
		"bits":          id.BitString(),
	}, nil
}

// checkerVerdict maps a checker exit code to a test status. testlib is the
// default checker.
func checkerVerdict(params Params) (interface{}, error) {
	code, err := ParseInt64(params.Get("exit_code"))
	if err != nil {
		return nil, fmt.Errorf("invalid exit_code: %w", err)
	}
	var status result.Status
	switch checker := strings.ToLower(strings.TrimSpace(params.Get("checker"))); checker {
	case "", "testlib":
		status = result.FromTestlibExit(int(code))
	case "cmp":
		status = result.FromCmpExit(int(code))
	default:
		return nil, fmt.Errorf("unknown checker %q, want testlib or cmp", checker)
	}
	return map[string]interface{}{
		"verdict": status.String(),
		"kind":    status.Kind,
	}, nil
}

// reduceVerdict folds "id:status" pairs. Statuses accept the kind or the
// display form, e.g. tests="1:accepted,2:Wrong Answer".
func reduceVerdict(params Params) (interface{}, error) {
	var prepare *result.PrepareOutcome
	if raw := params.Get("prepare_ok"); raw != "" {
		ok, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid prepare_ok: %w", err)
		}
		prepare = &result.PrepareOutcome{OK: ok}
	}
	tests, err := parseTests(params.Get("tests"))
	if err != nil {
		return nil, err
	}
	resolved, err := result.Reduce(prepare, tests)
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{
		"verdict": resolved.Status.String(),
		"kind":    resolved.Status.Kind,
	}
	if resolved.DecidingTestID != nil {
		out["deciding_test_id"] = *resolved.DecidingTestID
	}
	return out, nil
}

func parseTests(raw string) ([]result.TestcaseResult, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "[") {
		var tests []result.TestcaseResult
		if err := json.Unmarshal([]byte(raw), &tests); err != nil {
			return nil, fmt.Errorf("invalid tests json: %w", err)
		}
		return tests, nil
	}
	items := ParseStringList(raw)
	tests := make([]result.TestcaseResult, 0, len(items))
	for _, item := range items {
		parts := strings.SplitN(item, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid test %q, want id:status", item)
		}
		id, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid test id %q: %w", parts[0], err)
		}
		tests = append(tests, result.TestcaseResult{ID: id, Status: result.ParseStatus(parts[1])})
	}
	return tests, nil
}

func parseTimestamp(raw string) (uint64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "now" {
		return uint64(time.Now().UnixMilli()), nil
	}
	if ms, err := strconv.ParseUint(raw, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return 0, fmt.Errorf("invalid ts %q, want unix millis or RFC3339", raw)
	}
	if t.UnixMilli() < 0 {
		return 0, fmt.Errorf("ts %q is before the epoch", raw)
	}
	return uint64(t.UnixMilli()), nil
}
