package main

import (
	"testing"
	"time"
)

func TestParseDeadline(t *testing.T) {
	if _, err := parseDeadline("", 0); err == nil {
		t.Fatalf("expected error without a deadline")
	}
	if _, err := parseDeadline("2030-01-01T00:00:00Z", time.Hour); err == nil {
		t.Fatalf("expected error when both forms are given")
	}
	got, err := parseDeadline("2030-01-01T00:00:00Z", 0)
	if err != nil || !got.Equal(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("absolute deadline: %v %v", got, err)
	}
	before := time.Now()
	got, err = parseDeadline("", 72*time.Hour)
	if err != nil || got.Before(before.Add(72*time.Hour)) {
		t.Fatalf("relative deadline: %v %v", got, err)
	}
	if _, err := parseDeadline("tomorrow", 0); err == nil {
		t.Fatalf("expected parse error")
	}
}
