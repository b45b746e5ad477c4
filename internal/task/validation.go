package task

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
)

// numericField pairs an optional numeric field with its error and destination.
type numericField struct {
	name string
	err  error
	dst  func(t *Task) *float64
}

// Checked after id, desc, tags, start and stop, in this order.
var numericFields = []numericField{
	{"active", ErrInvalidActive, func(t *Task) *float64 { return &t.Active }},
	{"last_active", ErrInvalidLastActive, func(t *Task) *float64 { return &t.LastActive }},
	{"due", ErrInvalidDue, func(t *Task) *float64 { return &t.Due }},
	{"done", ErrInvalidDone, func(t *Task) *float64 { return &t.Done }},
	{"worktime", ErrInvalidWorktime, func(t *Task) *float64 { return &t.Worktime }},
}

// Parse validates a client-supplied task object and returns the task owned
// by userID, with its index derived and absent optional fields defaulted.
// The first violated rule is returned.
func Parse(raw json.RawMessage, userID string) (*Task, error) {
	var fields map[string]json.RawMessage
	if absent(raw) || json.Unmarshal(raw, &fields) != nil || fields == nil {
		return nil, ErrMissingTask
	}

	t := &Task{UserID: userID}

	id, err := ParseID(fields["id"])
	if err != nil {
		return nil, err
	}
	t.ID = id
	t.Index = Index(id, userID)

	desc := fields["desc"]
	if absent(desc) {
		return nil, ErrMissingDesc
	}
	if desc[0] != '"' || json.Unmarshal(desc, &t.Desc) != nil {
		return nil, ErrInvalidDesc
	}

	tags := fields["tags"]
	if absent(tags) {
		return nil, ErrMissingTags
	}
	if tags[0] != '[' || json.Unmarshal(tags, &t.Tags) != nil {
		return nil, ErrInvalidTags
	}

	if t.Start, err = parseSeries(fields["start"], ErrInvalidStart); err != nil {
		return nil, err
	}
	if t.Stop, err = parseSeries(fields["stop"], ErrInvalidStop); err != nil {
		return nil, err
	}

	for _, f := range numericFields {
		v, err := parseNumber(fields[f.name], f.err)
		if err != nil {
			return nil, err
		}
		*f.dst(t) = v
	}

	t.Normalize()
	return t, nil
}

// ParseID validates a task id: present, numeric and integral.
func ParseID(raw json.RawMessage) (int64, error) {
	if absent(raw) {
		return 0, ErrMissingID
	}
	raw = bytes.TrimSpace(raw)
	if !isNumber(raw) {
		return 0, ErrInvalidID
	}

	if id, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
		return id, nil
	}

	// Clients may serialise integral ids as 3.0 or 1e3.
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, ErrInvalidID
	}
	return int64(f), nil
}

func parseSeries(raw json.RawMessage, invalid error) ([]float64, error) {
	if absent(raw) {
		return []float64{}, nil
	}
	raw = bytes.TrimSpace(raw)
	var out []float64
	if raw[0] != '[' || json.Unmarshal(raw, &out) != nil {
		return nil, invalid
	}
	return out, nil
}

func parseNumber(raw json.RawMessage, invalid error) (float64, error) {
	if absent(raw) {
		return 0, nil
	}
	raw = bytes.TrimSpace(raw)
	if !isNumber(raw) {
		return 0, invalid
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0, invalid
	}
	return f, nil
}

// absent reports whether a JSON value is missing or falsy: null, false,
// zero or the empty string.
func absent(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return true
	}
	switch {
	case raw[0] == 'n', raw[0] == 'f':
		return true
	case raw[0] == '"':
		return string(raw) == `""`
	case isNumber(raw):
		f, err := strconv.ParseFloat(string(raw), 64)
		return err == nil && f == 0
	}
	return false
}

func isNumber(raw []byte) bool {
	return len(raw) > 0 && (raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9'))
}
