package submissionid

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"

	"ojsubmit/pkg/errors"
)

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// MarshalJSON always emits a JSON string.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON accepts a JSON string only; bare numbers are rejected so
// precision loss in other clients can not slip through.
func (id *ID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrapf(err, errors.MalformedIdentifier, "identifier must be a JSON string, got %s", data)
	}
	return id.UnmarshalText([]byte(s))
}

// Value implements driver.Valuer using the decimal form.
func (id ID) Value() (driver.Value, error) {
	return id.String(), nil
}

// Scan implements sql.Scanner.
func (id *ID) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		return id.UnmarshalText([]byte(v))
	case []byte:
		return id.UnmarshalText(v)
	case nil:
		return errors.Newf(errors.MalformedIdentifier, "identifier column is NULL")
	default:
		return errors.Newf(errors.MalformedIdentifier, "cannot scan %T into identifier", src)
	}
}
