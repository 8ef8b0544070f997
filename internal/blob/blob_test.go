package blob

import (
	"context"
	"io"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/castellan-ai/castellan/internal/tier"
)

func TestKey_TierPrefixAndDatePath(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	key := Key(tier.High, "Q1 Board Minutes", "minutes.PDF", now)

	if !strings.HasPrefix(key, "HIGH/2026/03/15/q1-board-minutes_") {
		t.Fatalf("unexpected key prefix: %s", key)
	}
	if !strings.HasSuffix(key, ".pdf") {
		t.Fatalf("extension not lowered: %s", key)
	}

	uuidPart := strings.TrimSuffix(key[strings.LastIndex(key, "_")+1:], ".pdf")
	if ok, _ := regexp.MatchString(`^[0-9a-f-]{36}$`, uuidPart); !ok {
		t.Errorf("expected uuid suffix, got %q", uuidPart)
	}
}

func TestKey_Unique(t *testing.T) {
	t.Parallel()

	now := time.Now()
	a := Key(tier.Low, "same title", "a.txt", now)
	b := Key(tier.Low, "same title", "a.txt", now)
	if a == b {
		t.Fatalf("two uploads of the same title produced the same key: %s", a)
	}
}

func TestKeyTier_FailsClosed(t *testing.T) {
	t.Parallel()

	if got := KeyTier("HIGH/2026/01/01/x_y.pdf"); got != tier.High {
		t.Errorf("KeyTier = %v, want HIGH", got)
	}
	if got := KeyTier("bogus/2026/01/01/x.pdf"); got != tier.Low {
		t.Errorf("unknown prefix must fail closed to LOW, got %v", got)
	}
}

func TestSlugify(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Q1 Board Minutes":  "q1-board-minutes",
		"  spaced   out  ":  "spaced-out",
		"Ünïcodé!!":          "n-cod",
		"":                   "document",
		"///":                "document",
	}
	for in, want := range cases {
		if got := slugify(in); got != want {
			t.Errorf("slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMemory_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()

	if err := m.Put(ctx, "LOW/x", strings.NewReader("hello"), 5, "text/plain"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rc, err := m.Get(ctx, "LOW/x")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "hello" {
		t.Errorf("Get = %q", data)
	}

	if _, err := m.Presign(ctx, "LOW/x", time.Minute); err != nil {
		t.Errorf("Presign: %v", err)
	}

	if err := m.Delete(ctx, "LOW/x"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := m.Delete(ctx, "LOW/x"); err != nil {
		t.Errorf("deleting a missing key must not error: %v", err)
	}
	if _, err := m.Get(ctx, "LOW/x"); err == nil {
		t.Error("expected error getting a deleted object")
	}
}
