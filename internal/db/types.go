package db

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// SQLite datetime format (from datetime('now'))
const SQLiteTimeFormat = "2006-01-02 15:04:05"

// TimeFormat is how timestamps are stored. It has a fixed width so text
// order equals time order.
const TimeFormat = "2006-01-02T15:04:05.000000000Z"

// Timestamp stores a time as UTC text.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) Scan(value any) error {
	var str string
	switch v := value.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case []byte:
		str = string(v)
	case string:
		str = v
	case time.Time:
		t.Time = v.UTC()
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Timestamp", value)
	}

	for _, format := range []string{TimeFormat, SQLiteTimeFormat, time.RFC3339Nano} {
		if parsed, err := time.Parse(format, str); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("cannot parse time %q", str)
}

func (t Timestamp) Value() (driver.Value, error) {
	return t.UTC().Format(TimeFormat), nil
}
