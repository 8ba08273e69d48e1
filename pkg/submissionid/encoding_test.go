package submissionid_test

import (
	"encoding/json"
	"testing"

	"ojsubmit/pkg/errors"
	"ojsubmit/pkg/submissionid"
)

type envelope struct {
	ID submissionid.ID `json:"id"`
}

func TestJSONUsesDecimalString(t *testing.T) {
	t.Parallel()
	id := submissionid.Encode(1700000000000, 7, u32(42), submitter)
	data, err := json.Marshal(envelope{ID: id})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	want := `{"id":"263062258348143308417577107074855803392"}`
	if string(data) != want {
		t.Fatalf("unexpected json %s", data)
	}
	var back envelope
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if back.ID != id {
		t.Fatalf("json round trip mismatch")
	}
}

func TestJSONRejectsNumbers(t *testing.T) {
	t.Parallel()
	var env envelope
	err := json.Unmarshal([]byte(`{"id":123}`), &env)
	if err == nil {
		t.Fatalf("expected error for numeric id")
	}
	if err := json.Unmarshal([]byte(`{"id":"340282366920938463463374607431768211456"}`), &env); err == nil {
		t.Fatalf("expected error for id above 128 bits")
	}
}

func TestSQLValueAndScan(t *testing.T) {
	t.Parallel()
	id := submissionid.Encode(42, 1, nil, submitter)
	v, err := id.Value()
	if err != nil {
		t.Fatalf("value failed: %v", err)
	}
	s, ok := v.(string)
	if !ok || s != id.String() {
		t.Fatalf("unexpected driver value %#v", v)
	}

	var fromString, fromBytes submissionid.ID
	if err := fromString.Scan(s); err != nil || fromString != id {
		t.Fatalf("scan string failed: %v", err)
	}
	if err := fromBytes.Scan([]byte(s)); err != nil || fromBytes != id {
		t.Fatalf("scan bytes failed: %v", err)
	}

	var bad submissionid.ID
	for _, src := range []interface{}{nil, int64(5), "abc"} {
		if err := bad.Scan(src); !errors.Is(err, errors.MalformedIdentifier) {
			t.Fatalf("scan %#v: expected MalformedIdentifier, got %v", src, err)
		}
	}
}
