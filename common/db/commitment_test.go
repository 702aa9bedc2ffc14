package db

import (
	"fmt"
	"reflect"
	"testing"
	"time"
)

// valueRow plays a pgx.Row holding the values a write sent to the database.
type valueRow []any

func (r valueRow) Scan(dest ...any) error {
	if len(dest) != len(r) {
		return fmt.Errorf("scanning %d columns from a row of %d", len(dest), len(r))
	}
	for i, value := range r {
		target := reflect.ValueOf(dest[i]).Elem()
		if !reflect.TypeOf(value).AssignableTo(target.Type()) {
			return fmt.Errorf("column %d: cannot scan %T into %s", i, value, target.Type())
		}
		target.Set(reflect.ValueOf(value))
	}
	return nil
}

func TestCommitmentColumnsRoundTrip(t *testing.T) {
	start := time.Date(2026, time.October, 18, 0, 0, 0, 0, time.UTC)
	tests := map[string]struct {
		duration time.Duration
	}{
		"one year":              {duration: 365 * 24 * time.Hour},
		"ending after 2262":     {duration: 250 * 365 * 24 * time.Hour},
		"longest duration":      {duration: time.Duration(1<<63 - 1).Truncate(time.Second)},
		"ending when it starts": {duration: 0},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			written := testCommitment(3)
			written.StartTime = start
			written.EndTime = start.Add(test.duration)
			written.LastClaimed = start.Add(written.Period)

			read, err := scanCommitment(valueRow(commitmentValues(written)))
			if err != nil {
				t.Fatalf("error scanning commitment: %v", err)
			}
			if !read.EndTime.Equal(written.EndTime) {
				t.Errorf("end time: expected=%s, actual=%s", written.EndTime, read.EndTime)
			}
			if !reflect.DeepEqual(read, written) {
				t.Errorf("expected %+v, got %+v", written, read)
			}
		})
	}
}

func TestScanCommitmentRejectsBadAmount(t *testing.T) {
	values := commitmentValues(testCommitment(0))
	values[4] = "not a number"
	if _, err := scanCommitment(valueRow(values)); err == nil {
		t.Errorf("expected an error for a malformed amount")
	}
}
