package contacts

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(pgx.ErrNoRows) {
		t.Fatalf("bare ErrNoRows not recognized")
	}
	if !IsNotFound(fmt.Errorf("load contact: %w", pgx.ErrNoRows)) {
		t.Fatalf("wrapped ErrNoRows not recognized")
	}
	if IsNotFound(errors.New("connection reset")) {
		t.Fatalf("unrelated error treated as not-found")
	}
}
