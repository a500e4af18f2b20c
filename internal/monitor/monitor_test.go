package monitor

import (
	"strings"
	"testing"
)

func TestNewContractMonitor(t *testing.T) {
	t.Run("SuccessfulLoad", func(t *testing.T) {
		cm, err := NewContractMonitor([]byte(`{
			"$schema": "http://json-schema.org/draft-07/schema#",
			"type": "object",
			"properties": { "name": { "type": "string" } },
			"required": ["name"]
		}`))
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if cm == nil || cm.schema == nil {
			t.Fatal("Expected compiled schema, got nil")
		}
	})

	t.Run("InvalidSchemaSyntax", func(t *testing.T) {
		_, err := NewContractMonitor([]byte("{invalid_json"))
		if err == nil {
			t.Fatal("Expected error for invalid schema syntax, got nil")
		}
		if !strings.Contains(err.Error(), "error loading or compiling schema") {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestCreatePaymentMonitor_Validate(t *testing.T) {
	cm := NewCreatePaymentMonitor()

	cases := []struct {
		name      string
		body      string
		wantValid bool
		wantErr   bool
		contains  string
	}{
		{name: "Valid", body: `{"cartId":"c1","userId":"u1","method":"stripe"}`, wantValid: true},
		{name: "MissingMethod", body: `{"cartId":"c1","userId":"u1"}`, contains: "method"},
		{name: "EmptyCartID", body: `{"cartId":"","userId":"u1","method":"paypal"}`, contains: "cartId"},
		{name: "WrongType", body: `{"cartId":1,"userId":"u1","method":"paypal"}`, contains: "cartId"},
		{name: "UnknownField", body: `{"cartId":"c1","userId":"u1","method":"paypal","amount":5}`, contains: "amount"},
		{name: "NotJSON", body: `not json`, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			valid, errs, err := cm.Validate([]byte(tc.body))
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected an error for malformed JSON")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if valid != tc.wantValid {
				t.Fatalf("valid = %v, want %v (errors: %v)", valid, tc.wantValid, errs)
			}
			if tc.contains != "" && !strings.Contains(FormatErrors(errs), tc.contains) {
				t.Errorf("expected errors to mention %q, got %q", tc.contains, FormatErrors(errs))
			}
		})
	}
}

func TestFormatErrors(t *testing.T) {
	if got := FormatErrors(nil); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
	got := FormatErrors([]string{"a is required", "b must be string"})
	want := "Validation errors: a is required; b must be string"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
