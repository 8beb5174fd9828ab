package util

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// FlexTime decodes from a JSON string, a unix number, or a query parameter.
type FlexTime struct {
	time.Time
}

func (f *FlexTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) || len(b) == 0 {
		f.Time = time.Time{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		return f.UnmarshalParam(s)
	}
	n, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("invalid time %s", b)
	}
	f.Time = FromUnix(int64(n))
	return nil
}

func (f FlexTime) MarshalJSON() ([]byte, error) {
	if f.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(f.UTC().Format(time.RFC3339))
}

// UnmarshalParam lets echo bind FlexTime from query and form values.
func (f *FlexTime) UnmarshalParam(s string) error {
	if s == "" {
		f.Time = time.Time{}
		return nil
	}
	t, ok := ParseTime(s)
	if !ok {
		return fmt.Errorf("invalid time %q", s)
	}
	f.Time = t
	return nil
}

// Ptr returns nil for the zero time.
func (f FlexTime) Ptr() *time.Time {
	if f.IsZero() {
		return nil
	}
	t := f.Time
	return &t
}
