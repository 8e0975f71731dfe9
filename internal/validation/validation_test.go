package validation

import "testing"

func TestIsValidEthAddress(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"0x1234567890123456789012345678901234567890", true},
		{"0xAbCdEf1234567890123456789012345678901234", true},
		{"1234567890123456789012345678901234567890", false}, // missing prefix
		{"0x123", false}, // too short
		{"0x12345678901234567890123456789012345678zz", false}, // non-hex
		{"", false},
	}

	for _, tt := range tests {
		if got := IsValidEthAddress(tt.addr); got != tt.want {
			t.Errorf("IsValidEthAddress(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestValidate_CollectsErrors(t *testing.T) {
	errs := Validate(
		Required("email", ""),
		ValidAddress("address", "not-an-address"),
		PositiveQuantity("quantity", 0),
	)
	if len(errs) != 3 {
		t.Fatalf("expected 3 errors, got %d: %v", len(errs), errs)
	}
	if errs.Error() == "" {
		t.Error("expected non-empty error string")
	}
}

func TestValidate_PassesCleanInput(t *testing.T) {
	errs := Validate(
		Required("email", "a@b.com"),
		ValidAddress("address", "0x1234567890123456789012345678901234567890"),
		PositiveID("id", 7),
		PositiveQuantity("quantity", 2),
		ValidPrice("price", "19.99"),
	)
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}

func TestValidPrice(t *testing.T) {
	tests := []struct {
		price string
		valid bool
	}{
		{"19.99", true},
		{"0", true},
		{"", true}, // optional, use Required for mandatory fields
		{"1.", false},
		{".5", false},
		{"1.0.0", false},
		{"-3", false},
		{"abc", false},
	}
	for _, tt := range tests {
		err := ValidPrice("price", tt.price)()
		if tt.valid && err != nil {
			t.Errorf("ValidPrice(%q) unexpected error: %v", tt.price, err)
		}
		if !tt.valid && err == nil {
			t.Errorf("ValidPrice(%q) expected error", tt.price)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  hi\x00there  ", 100); got != "hithere" {
		t.Errorf("unexpected sanitized value %q", got)
	}
	if got := SanitizeString("abcdef", 3); got != "abc" {
		t.Errorf("expected truncation, got %q", got)
	}
}
