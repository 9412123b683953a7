package eventlog

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/petal-ejector/petal-controller/internal/models"
)

func TestAppendOrderAndTimestamp(t *testing.T) {
	base := time.Date(2024, 3, 1, 19, 30, 0, 0, time.UTC)
	tick := 0
	l := NewWithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})

	l.Append(models.EventLevelInfo, "first", nil)
	l.Append(models.EventLevelError, "ERROR: second", models.Variables{"motor": 2})

	entries := l.Entries()
	if len(entries) != 2 {
		t.Fatalf("len = %d, want 2", len(entries))
	}
	if entries[0].Message != "first" || entries[1].Message != "ERROR: second" {
		t.Fatalf("order wrong: %+v", entries)
	}
	if !entries[1].CreatedAt.After(entries[0].CreatedAt) {
		t.Fatal("timestamps not increasing")
	}
	if entries[1].Level != models.EventLevelError {
		t.Fatalf("level = %s", entries[1].Level)
	}
	if entries[0].ID == uuid.Nil || entries[0].ID == entries[1].ID {
		t.Fatal("entries need distinct ids")
	}
	if got := entries[0].String(); got != "[19:30:01] first" {
		t.Fatalf("String() = %q", got)
	}
}

func TestEntriesIsACopy(t *testing.T) {
	l := New()
	l.Append(models.EventLevelInfo, "a", nil)

	entries := l.Entries()
	entries[0].Message = "mutated"

	if l.Entries()[0].Message != "a" {
		t.Fatal("caller mutation leaked into the log")
	}
}

func TestDetailsAreCloned(t *testing.T) {
	l := New()
	details := models.Variables{"motor": 1}
	l.Append(models.EventLevelInfo, "a", details)
	details["motor"] = 7

	if got := l.Entries()[0].Details["motor"]; got != 1 {
		t.Fatalf("details motor = %v, want 1", got)
	}
}

func TestSince(t *testing.T) {
	l := New()
	a := l.Append(models.EventLevelInfo, "a", nil)
	l.Append(models.EventLevelInfo, "b", nil)
	l.Append(models.EventLevelInfo, "c", nil)

	got := l.Since(a.ID)
	if len(got) != 2 || got[0].Message != "b" || got[1].Message != "c" {
		t.Fatalf("Since = %+v", got)
	}
	if all := l.Since(uuid.New()); len(all) != 3 {
		t.Fatalf("Since(unknown) len = %d, want 3", len(all))
	}
}

func TestClear(t *testing.T) {
	l := New()
	l.Append(models.EventLevelInfo, "a", nil)
	l.Append(models.EventLevelInfo, "b", nil)
	l.Clear()

	if l.Len() != 0 {
		t.Fatalf("Len after Clear = %d", l.Len())
	}

	l.Append(models.EventLevelInfo, "c", nil)
	if entries := l.Entries(); len(entries) != 1 || entries[0].Message != "c" {
		t.Fatalf("log after Clear+Append = %+v", entries)
	}
}
