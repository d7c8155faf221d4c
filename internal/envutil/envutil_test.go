package envutil

import "testing"

func TestParseBool(t *testing.T) {
	truthy := []string{"1", "true", "TRUE", " yes ", "on", "Y"}
	for _, value := range truthy {
		if !ParseBool(value) {
			t.Fatalf("expected %q to parse true", value)
		}
	}
	falsy := []string{"", "0", "false", "off", "no", "maybe"}
	for _, value := range falsy {
		if ParseBool(value) {
			t.Fatalf("expected %q to parse false", value)
		}
	}
}

func TestInt(t *testing.T) {
	t.Setenv("DATAPILOT_TEST_INT", "12")
	if got := Int("DATAPILOT_TEST_INT", 5); got != 12 {
		t.Fatalf("expected 12, got %d", got)
	}
	t.Setenv("DATAPILOT_TEST_INT", "not-a-number")
	if got := Int("DATAPILOT_TEST_INT", 5); got != 5 {
		t.Fatalf("expected fallback 5, got %d", got)
	}
	if got := Int("DATAPILOT_TEST_INT_UNSET", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
}
