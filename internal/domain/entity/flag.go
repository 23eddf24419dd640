package entity

import (
	"bytes"
	"fmt"
)

// Flag is a boolean column. SQLite rows arrive as 0/1, JSON bodies as true/false.
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "true", "1", `"1"`, `"true"`:
		*f = true
	case "false", "0", "null", `""`, `"0"`, `"false"`:
		*f = false
	default:
		return fmt.Errorf("flag: unexpected value %s", data)
	}
	return nil
}
