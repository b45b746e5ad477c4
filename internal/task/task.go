package task

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Task is one entry of a user's task list.
//
// Both schema revisions used by clients are carried: the older
// active/last_active/worktime counters and the newer start/stop arrays.
// Numeric fields are opaque to the server; their meaning belongs to clients.
type Task struct {
	ID         int64     `json:"id"`
	Index      string    `json:"index"`
	UserID     string    `json:"user_id"`
	Desc       string    `json:"desc"`
	Tags       []string  `json:"tags"`
	Active     float64   `json:"active"`
	LastActive float64   `json:"last_active"`
	Due        float64   `json:"due"`
	Done       float64   `json:"done"`
	Worktime   float64   `json:"worktime"`
	Start      []float64 `json:"start"`
	Stop       []float64 `json:"stop"`
}

// Index derives the system-wide key of task id for userID.
func Index(id int64, userID string) string {
	return strconv.FormatInt(id, 10) + "-" + userID
}

// ParseIndex splits an index into the task id and the owning user id.
// The id may be negative, so the separator is the first '-' after the
// leading sign.
func ParseIndex(index string) (id int64, userID string, err error) {
	if index == "" {
		return 0, "", ErrMissingIndex
	}

	sep := strings.IndexByte(index[1:], '-')
	if sep < 0 {
		return 0, "", fmt.Errorf("%w: %q", ErrInvalidIndex, index)
	}
	sep++

	id, err = strconv.ParseInt(index[:sep], 10, 64)
	if err != nil || index[sep+1:] == "" {
		return 0, "", fmt.Errorf("%w: %q", ErrInvalidIndex, index)
	}
	return id, index[sep+1:], nil
}

// Normalize fills nil slices so the task encodes with empty arrays
// rather than null.
func (t *Task) Normalize() {
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if t.Start == nil {
		t.Start = []float64{}
	}
	if t.Stop == nil {
		t.Stop = []float64{}
	}
}

// Clone returns a deep copy of t.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Tags = slices.Clone(t.Tags)
	c.Start = slices.Clone(t.Start)
	c.Stop = slices.Clone(t.Stop)
	c.Normalize()
	return &c
}
