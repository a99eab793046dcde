package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestNotFoundError(t *testing.T) {
	tests := []struct {
		name     string
		err      *NotFoundError
		wantMsg  string
		wantBase error
	}{
		{
			name:     "with ID",
			err:      &NotFoundError{Resource: "run", ID: "b1f0"},
			wantMsg:  "run not found: b1f0",
			wantBase: ErrNotFound,
		},
		{
			name:     "without ID",
			err:      &NotFoundError{Resource: "rootfile"},
			wantMsg:  "rootfile not found",
			wantBase: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
			if got := tt.err.Unwrap(); !errors.Is(got, tt.wantBase) {
				t.Errorf("Unwrap() = %v, want %v", got, tt.wantBase)
			}
		})
	}
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{Field: "scale", Message: "must be positive"}
	if got, want := err.Error(), "validation failed for scale: must be positive"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("ValidationError should unwrap to ErrInvalidInput")
	}

	t.Run("without field", func(t *testing.T) {
		err := &ValidationError{Message: "invalid format"}
		if got, want := err.Error(), "validation failed: invalid format"; got != want {
			t.Errorf("Error() = %q, want %q", got, want)
		}
	})
}

func TestIOError(t *testing.T) {
	baseErr := fmt.Errorf("unexpected EOF")
	tests := []struct {
		name    string
		err     *IOError
		wantMsg string
	}{
		{
			name:    "with path",
			err:     &IOError{Operation: "decompress", Path: "page1.xml.xz", Err: baseErr},
			wantMsg: "failed to decompress page1.xml.xz: unexpected EOF",
		},
		{
			name:    "without path",
			err:     &IOError{Operation: "read", Err: baseErr},
			wantMsg: "failed to read: unexpected EOF",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
			if !errors.Is(tt.err, baseErr) {
				t.Errorf("Unwrap() does not reach %v", baseErr)
			}
		})
	}
}

func TestParseError(t *testing.T) {
	t.Run("defaults to malformed", func(t *testing.T) {
		err := NewParse("MusicXML", "score.xml", "unexpected EOF")
		if got, want := err.Error(), "failed to parse MusicXML at score.xml: unexpected EOF"; got != want {
			t.Errorf("Error() = %q, want %q", got, want)
		}
		if !errors.Is(err, ErrMalformed) {
			t.Error("ParseError without Err should unwrap to ErrMalformed")
		}
	})

	t.Run("structure", func(t *testing.T) {
		err := NewStructure("score", "part[0]", "no measures")
		if !errors.Is(err, ErrStructure) {
			t.Error("NewStructure should unwrap to ErrStructure")
		}
		if errors.Is(err, ErrMalformed) {
			t.Error("NewStructure should not unwrap to ErrMalformed")
		}
	})
}

func TestUnsupportedError(t *testing.T) {
	err := NewUnsupported("score layout", "score-timewise")
	if got, want := err.Error(), "unsupported score layout: score-timewise"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrUnsupported) {
		t.Error("UnsupportedError should unwrap to ErrUnsupported")
	}
}

func TestCategory(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"no output", Wrap(ErrNoOutput, "decode"), CategoryNoOutput},
		{"malformed", NewParse("JSON", "", "bad token"), CategoryMalformed},
		{"structure", NewStructure("score", "", "no part"), CategoryStructure},
		{"unsupported", NewUnsupported("layout", "timewise"), CategoryStructure},
		{"empty", Wrapf(ErrEmpty, "after %d measures", 3), CategoryEmpty},
		{"other", fmt.Errorf("boom"), CategoryInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Category(tt.err); got != tt.want {
				t.Errorf("Category() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	baseErr := fmt.Errorf("base error")
	wrapped := Wrap(baseErr, "context message")
	if !errors.Is(wrapped, baseErr) {
		t.Errorf("Wrap() error does not unwrap to base error")
	}
	if got, want := wrapped.Error(), "context message: base error"; got != want {
		t.Errorf("Wrap() = %q, want %q", got, want)
	}
	if got := Wrap(nil, "context"); got != nil {
		t.Errorf("Wrap(nil) = %v, want nil", got)
	}
	if got := Wrapf(nil, "context %s", "x"); got != nil {
		t.Errorf("Wrapf(nil) = %v, want nil", got)
	}
}

func TestAs(t *testing.T) {
	err := Wrap(&NotFoundError{Resource: "run", ID: "123"}, "history")
	var nfErr *NotFoundError
	if !As(err, &nfErr) {
		t.Fatal("As() failed to match NotFoundError")
	}
	if nfErr.ID != "123" {
		t.Errorf("As() nfErr.ID = %q, want %q", nfErr.ID, "123")
	}
	if !Is(err, ErrNotFound) {
		t.Error("Is() failed to match ErrNotFound")
	}
}
