package passphrase

import (
	"errors"
	"testing"
)

func scripted(answers ...string) func(string) ([]byte, error) {
	return func(string) ([]byte, error) {
		if len(answers) == 0 {
			return nil, errors.New("no more input")
		}
		next := answers[0]
		answers = answers[1:]
		return []byte(next), nil
	}
}

func TestSourcePrefersEnvironment(t *testing.T) {
	t.Setenv("PELEON_TEST_PASS", "hunter2")
	src := NewSource("PELEON_TEST_PASS", "owner keystore")
	src.read = scripted()
	got, err := src.Get()
	if err != nil || got != "hunter2" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("PELEON_TEST_PASS", "  ")
	if _, err := NewSource("PELEON_TEST_PASS", "").Get(); err == nil {
		t.Fatalf("expected error for blank passphrase")
	}
}

func TestSourceRequiresTerminal(t *testing.T) {
	src := NewSource("PELEON_TEST_UNSET", "owner keystore")
	src.isTerminal = func() bool { return false }
	if _, err := src.Get(); err == nil {
		t.Fatalf("expected error without terminal")
	}
}

func TestSourcePromptsAndCaches(t *testing.T) {
	src := NewSource("", "owner keystore")
	src.isTerminal = func() bool { return true }
	src.read = scripted("correct horse")
	for i := 0; i < 2; i++ {
		got, err := src.Get()
		if err != nil || got != "correct horse" {
			t.Fatalf("attempt %d: got %q, %v", i, got, err)
		}
	}
}

func TestSourceConfirmation(t *testing.T) {
	src := NewSource("", "owner keystore").WithConfirmation()
	src.isTerminal = func() bool { return true }
	src.read = scripted("one", "two")
	if _, err := src.Get(); !errors.Is(err, ErrMismatch) {
		t.Fatalf("expected ErrMismatch, got %v", err)
	}

	src = NewSource("", "owner keystore").WithConfirmation()
	src.isTerminal = func() bool { return true }
	src.read = scripted("same", "same")
	if got, err := src.Get(); err != nil || got != "same" {
		t.Fatalf("got %q, %v", got, err)
	}
}
