package textutil

import (
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "  Evaluación   de  Física ", want: "evaluacion de fisica"},
		{in: "JOSÉ\tSoto\nDíaz", want: "jose soto diaz"},
		{in: "ñandú", want: "nandu"},
		{in: "", want: ""},
		{in: "ya normalizado", want: "ya normalizado"},
	}
	for _, tc := range tests {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTokens(t *testing.T) {
	got := Tokens("¿Cuál es la capital de Francia? A) París")
	want := []string{"cual", "es", "la", "capital", "de", "francia", "a", "paris"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tokens = %v, want %v", got, want)
	}
}

func TestTokenSet(t *testing.T) {
	set := TokenSet("la gravedad atrae los cuerpos", 4)
	for _, tok := range []string{"gravedad", "atrae", "cuerpos"} {
		if _, ok := set[tok]; !ok {
			t.Errorf("missing token %q", tok)
		}
	}
	for _, tok := range []string{"la", "los"} {
		if _, ok := set[tok]; ok {
			t.Errorf("short token %q should be filtered", tok)
		}
	}
}
