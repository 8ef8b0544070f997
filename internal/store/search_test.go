package store

import (
	"strings"
	"testing"
)

func TestPgvector_Literal(t *testing.T) {
	t.Parallel()

	got := pgvector([]float32{1, -0.5, 0})
	if got != "[1,-0.5,0]" {
		t.Errorf("pgvector = %q", got)
	}
}

func TestPgvector_Empty(t *testing.T) {
	t.Parallel()

	if got := pgvector(nil); got != "[]" {
		t.Errorf("pgvector(nil) = %q", got)
	}
}

func TestPgvector_NoWhitespace(t *testing.T) {
	t.Parallel()

	got := pgvector(make([]float32, 8))
	if strings.ContainsAny(got, " \t\n") {
		t.Errorf("literal must be whitespace-free: %q", got)
	}
}
