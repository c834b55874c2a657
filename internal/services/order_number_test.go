package services

import (
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"
)

var orderNumberPattern = regexp.MustCompile(`^ORD-\d+-[0-9A-Z]{9}$`)

func TestRandomOrderNumbersFormat(t *testing.T) {
	now := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)
	number, err := NewRandomOrderNumbers(nil).Next(now)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if !orderNumberPattern.MatchString(number) {
		t.Fatalf("unexpected order number %q", number)
	}
	if !strings.HasPrefix(number, "ORD-1748856600000-") {
		t.Fatalf("expected millisecond timestamp, got %q", number)
	}
}

func TestRandomOrderNumbersUnique(t *testing.T) {
	gen := NewRandomOrderNumbers(nil)
	now := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		number, err := gen.Next(now)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if _, dup := seen[number]; dup {
			t.Fatalf("duplicate order number %q after %d draws", number, i)
		}
		seen[number] = struct{}{}
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestRandomOrderNumbersPropagatesReadError(t *testing.T) {
	if _, err := NewRandomOrderNumbers(failingReader{}).Next(time.Now()); err == nil {
		t.Fatalf("expected error from failing reader")
	}
}
