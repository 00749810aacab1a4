package i18n

import (
	"strings"
	"testing"
)

func initLang(t *testing.T, lang string) {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
}

func TestTranslateEnglish(t *testing.T) {
	initLang(t, "en")

	got := T("GradeCommitted", nil)
	if got != "Grade committed to the ledger" {
		t.Errorf("T(GradeCommitted) = %q", got)
	}
}

func TestTranslateSpanish(t *testing.T) {
	initLang(t, "es")

	got := T("GradeCommitted", nil)
	if got != "Nota registrada en el libro de clases" {
		t.Errorf("T(GradeCommitted) = %q", got)
	}
}

func TestTemplateData(t *testing.T) {
	initLang(t, "es")

	got := T("StudentResolved", map[string]any{"Name": "Ana Rojas", "ID": "s1"})
	if !strings.Contains(got, "Ana Rojas") || !strings.Contains(got, "s1") {
		t.Errorf("T(StudentResolved) = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	initLang(t, "en")

	got := T("NonExistentKey", nil)
	if got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want id echo", got)
	}
}

func TestInvalidLanguage(t *testing.T) {
	if err := Init("!!"); err == nil {
		t.Fatal("expected error for invalid language tag")
	}
}
