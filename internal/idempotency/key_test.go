package idempotency

import (
	"errors"
	"testing"
)

func TestDeriveKey_FieldsAreDeterministic(t *testing.T) {
	src := KeySource{
		Scope:  "purge",
		Fields: []any{"user-42", map[string]int{"b": 2, "a": 1}, []string{"x", "y"}},
	}

	k1, err := DeriveKey(src)
	if err != nil {
		t.Fatalf("DeriveKey error: %v", err)
	}
	k2, err := DeriveKey(src)
	if err != nil {
		t.Fatalf("DeriveKey error: %v", err)
	}
	if k1 != k2 {
		t.Fatalf("same fields produced different keys: %s vs %s", k1, k2)
	}
}

func TestDeriveKey_DistinctFieldsDistinctKeys(t *testing.T) {
	a, _ := DeriveKey(KeySource{Scope: "purge", Fields: []any{"user-1"}})
	b, _ := DeriveKey(KeySource{Scope: "purge", Fields: []any{"user-2"}})
	if a == b {
		t.Fatalf("distinct fields collided: %s", a)
	}

	// scope separates operations over the same parameters
	c, _ := DeriveKey(KeySource{Scope: "export", Fields: []any{"user-1"}})
	if a == c {
		t.Fatalf("distinct scopes collided: %s", a)
	}
}

func TestDeriveKey_FieldsWinOverHeader(t *testing.T) {
	withBoth, err := DeriveKey(KeySource{
		Scope:  "purge",
		Fields: []any{"user-42"},
		Header: "client-key-1",
	})
	if err != nil {
		t.Fatalf("DeriveKey error: %v", err)
	}
	fieldsOnly, _ := DeriveKey(KeySource{Scope: "purge", Fields: []any{"user-42"}})
	if withBoth != fieldsOnly {
		t.Fatalf("expression derivation must take precedence over the header")
	}
}

func TestDeriveKey_HeaderVerbatim(t *testing.T) {
	k, err := DeriveKey(KeySource{Scope: "purge", Header: "client-key-1"})
	if err != nil {
		t.Fatalf("DeriveKey error: %v", err)
	}
	if k != "client-key-1" {
		t.Fatalf("header key must be used verbatim, got %s", k)
	}
}

func TestDeriveKey_NoSource(t *testing.T) {
	if _, err := DeriveKey(KeySource{Scope: "purge"}); !errors.Is(err, ErrNoKeySource) {
		t.Fatalf("expected ErrNoKeySource, got %v", err)
	}
}

func TestSerializeValue_PointerAndStruct(t *testing.T) {
	type params struct {
		Owner string
		Limit int
	}
	v := serializeValue(&params{Owner: "u1", Limit: 10})
	if v != "{Owner:u1,Limit:10}" {
		t.Fatalf("unexpected serialization: %s", v)
	}
	if serializeValue(nil) != "nil" {
		t.Fatalf("nil must serialize to nil")
	}
}
