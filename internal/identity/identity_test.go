package identity_test

import (
	"testing"

	"github.com/farmaplex/wsp-bot-go/internal/identity"
)

func TestNormalize_CUITWithHyphens(t *testing.T) {
	id, ok := identity.Normalize("mi cuit es 20-12345678-9")
	if !ok {
		t.Fatal("expected a match")
	}
	if id.Kind != identity.KindCUIT {
		t.Errorf("expected kind cuit, got %s", id.Kind)
	}
	if id.Value != "20123456789" {
		t.Errorf("expected 20123456789, got %s", id.Value)
	}
}

func TestNormalize_CUITWithoutHyphens(t *testing.T) {
	id, ok := identity.Normalize("27234567891")
	if !ok || id.Kind != identity.KindCUIT || id.Value != "27234567891" {
		t.Errorf("expected cuit 27234567891, got %+v ok=%v", id, ok)
	}
}

func TestNormalize_DNI(t *testing.T) {
	id, ok := identity.Normalize("dni 12345678")
	if !ok || id.Kind != identity.KindNumeric || id.Value != "12345678" {
		t.Errorf("expected numeric_id 12345678, got %+v ok=%v", id, ok)
	}
}

func TestNormalize_StrippedSeparators(t *testing.T) {
	id, ok := identity.Normalize("12.345.678")
	if !ok {
		t.Fatal("expected a match")
	}
	if id.Kind != identity.KindNumeric || id.Value != "12345678" {
		t.Errorf("expected numeric_id 12345678, got %+v", id)
	}
}

func TestNormalize_GroupedThousands(t *testing.T) {
	// Dotted DNIs embedded in a sentence must still be found.
	id, ok := identity.Normalize("mi dni es 30.123.456, gracias")
	if !ok || id.Kind != identity.KindNumeric || id.Value != "30123456" {
		t.Errorf("expected numeric_id 30123456, got %+v ok=%v", id, ok)
	}
}

func TestNormalize_FirstMatchWins(t *testing.T) {
	// Two digit runs: the first CUIT-shaped one must win even if a longer
	// run follows.
	id, ok := identity.Normalize("20-12345678-9 y tambien 99999999")
	if !ok || id.Kind != identity.KindCUIT || id.Value != "20123456789" {
		t.Errorf("expected the CUIT to win, got %+v", id)
	}

	// No CUIT shape present: first standalone run wins.
	id, ok = identity.Normalize("123456 777777")
	if !ok || id.Value != "123456" {
		t.Errorf("expected first numeric run 123456, got %+v", id)
	}
}

func TestNormalize_Rejected(t *testing.T) {
	for _, raw := range []string{"", "hola como estas", "abc-def", "123456789012345"} {
		if id, ok := identity.Normalize(raw); ok {
			t.Errorf("expected %q to be rejected, got %+v", raw, id)
		}
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	// Normalizing an already-canonical identifier must be a no-op for both
	// shapes.
	inputs := []string{"20-12345678-9", "12.345.678", "legajo 4411223", "123-456.789-01"}
	for _, raw := range inputs {
		first, ok := identity.Normalize(raw)
		if !ok {
			t.Fatalf("expected %q to normalize", raw)
		}
		second, ok := identity.Normalize(first.Value)
		if !ok {
			t.Fatalf("re-normalizing %q failed", first.Value)
		}
		if second != first {
			t.Errorf("normalize not idempotent for %q: %+v then %+v", raw, first, second)
		}
	}
}

func TestNormalizeAccountNumber(t *testing.T) {
	cases := map[string]string{
		"Mi cuenta es 9176": "9176",
		"91-76":             "9176",
		"  4411 ":           "4411",
		"sin numeros":       "",
		"":                  "",
	}
	for raw, want := range cases {
		if got := identity.NormalizeAccountNumber(raw); got != want {
			t.Errorf("NormalizeAccountNumber(%q) = %q, want %q", raw, got, want)
		}
	}
}
