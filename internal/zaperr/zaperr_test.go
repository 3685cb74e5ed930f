package zaperr

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestKindOf(t *testing.T) {
	base := New(KindSignatureInvalid, "verify", "bad sig")
	wrapped := fmt.Errorf("record zap: %w", base)

	for _, tc := range []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"plain", io.EOF, ""},
		{"direct", base, KindSignatureInvalid},
		{"wrapped", wrapped, KindSignatureInvalid},
		{"wrap helper", Wrap(KindTransientNetwork, "publish", io.ErrUnexpectedEOF), KindTransientNetwork},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.want {
				t.Errorf("KindOf = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(KindMalformedInput, "op", nil); err != nil {
		t.Fatalf("Wrap(nil) = %v, want nil", err)
	}
}

func TestErrorUnwrap(t *testing.T) {
	err := Wrap(KindTransientNetwork, "query", io.ErrUnexpectedEOF)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("errors.Is did not see wrapped cause: %v", err)
	}
	if !Is(err, KindTransientNetwork) {
		t.Fatal("Is(KindTransientNetwork) = false")
	}
	if Is(err, KindConfiguration) {
		t.Fatal("Is(KindConfiguration) = true")
	}
}

func TestErrorString(t *testing.T) {
	err := Newf(KindMalformedInput, "parse tag", "amount %q", "x")
	want := `parse tag: MALFORMED_INPUT: amount "x"`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestIsCryptographic(t *testing.T) {
	for kind, want := range map[Kind]bool{
		KindInvalidEvent:     true,
		KindSignatureInvalid: true,
		KindInvalidPublicKey: true,
		KindMalformedInput:   false,
		KindTransientNetwork: false,
	} {
		if got := kind.IsCryptographic(); got != want {
			t.Errorf("%s.IsCryptographic() = %v, want %v", kind, got, want)
		}
	}
}
