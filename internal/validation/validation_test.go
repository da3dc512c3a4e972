package validation

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func baseFields(t *testing.T, overrides map[string]any, drop ...string) map[string]json.RawMessage {
	t.Helper()
	m := map[string]any{
		"email":          "test@example.com",
		"secret":         "test-secret",
		"task":           "calculator-app",
		"round":          1,
		"nonce":          "abc123",
		"brief":          "Create a calculator",
		"evaluation_url": "https://example.com/eval",
		"checks":         []string{"Has MIT license"},
	}
	for k, v := range overrides {
		m[k] = v
	}
	for _, k := range drop {
		delete(m, k)
	}
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		t.Fatal(err)
	}
	return fields
}

func TestValidate_Table(t *testing.T) {
	cases := []struct {
		name      string
		overrides map[string]any
		drop      []string
		ok        bool
	}{
		{name: "valid request", ok: true},
		{name: "empty task name", overrides: map[string]any{"task": ""}},
		{name: "task with spaces", overrides: map[string]any{"task": "calculator app"}},
		{name: "task with special chars", overrides: map[string]any{"task": "calculator@app!"}},
		{name: "task starts with period", overrides: map[string]any{"task": ".calculator"}},
		{name: "task is a single period", overrides: map[string]any{"task": "."}},
		{name: "task with hyphen underscore period", overrides: map[string]any{"task": "calculator_app-v1.0"}, ok: true},
		{name: "task too long", overrides: map[string]any{"task": strings.Repeat("a", 101)}},
		{name: "task at max length", overrides: map[string]any{"task": strings.Repeat("a", 100)}, ok: true},
		{name: "dot prefixed and too long", overrides: map[string]any{"task": "." + strings.Repeat("a", 105)}},
		{name: "missing task", drop: []string{"task"}},
		{name: "missing email", drop: []string{"email"}},
		{name: "missing nonce", drop: []string{"nonce"}},
		{name: "missing brief", drop: []string{"brief"}},
		{name: "missing evaluation_url", drop: []string{"evaluation_url"}},
		{name: "missing round", drop: []string{"round"}},
		{name: "null email", overrides: map[string]any{"email": nil}},
		{name: "round as string", overrides: map[string]any{"round": "1"}},
		{name: "round zero", overrides: map[string]any{"round": 0}},
		{name: "round negative", overrides: map[string]any{"round": -2}},
		{name: "round fractional", overrides: map[string]any{"round": 1.5}},
		{name: "round boolean", overrides: map[string]any{"round": true}},
		{name: "round two", overrides: map[string]any{"round": 2}, ok: true},
		{name: "missing checks tolerated", drop: []string{"checks"}, ok: true},
		{name: "null checks tolerated", overrides: map[string]any{"checks": nil}, ok: true},
		{name: "checks not a list", overrides: map[string]any{"checks": "x"}},
		{name: "relative evaluation url", overrides: map[string]any{"evaluation_url": "/eval"}},
		{name: "empty brief", overrides: map[string]any{"brief": ""}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fields := baseFields(t, tc.overrides, tc.drop...)
			ok, msg := Check(fields, "")
			if ok != tc.ok {
				t.Fatalf("Check ok=%v want %v (msg=%q)", ok, tc.ok, msg)
			}
			if msg == "" {
				t.Fatalf("expected non-empty message")
			}
			if !tc.ok {
				_, err := Validate(fields, "")
				if !errors.Is(err, ErrInvalidRequest) {
					t.Fatalf("expected ErrInvalidRequest, got %v", err)
				}
			}
		})
	}
}

func TestValidate_MissingFieldsListed(t *testing.T) {
	_, err := Validate(baseFields(t, nil, "email", "nonce"), "")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "email, nonce") {
		t.Fatalf("message should list missing fields in order: %v", err)
	}
}

func TestValidate_Decodes(t *testing.T) {
	fields := baseFields(t, map[string]any{
		"round": 3,
		"attachments": []any{
			map[string]string{"name": "sample.csv", "url": "data:text/csv;base64,YQ=="},
			"not-an-object",
		},
	}, "checks")
	req, err := Validate(fields, "")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if req.Round != 3 || req.Task != "calculator-app" || req.Nonce != "abc123" {
		t.Fatalf("unexpected decode: %+v", req)
	}
	if req.Checks == nil || len(req.Checks) != 0 {
		t.Fatalf("absent checks should decode to an empty list, got %#v", req.Checks)
	}
	if len(req.Attachments) != 1 || req.Attachments[0].Name != "sample.csv" {
		t.Fatalf("unexpected attachments: %+v", req.Attachments)
	}
}

func TestValidate_Secret(t *testing.T) {
	if _, err := Validate(baseFields(t, nil), "test-secret"); err != nil {
		t.Fatalf("matching secret rejected: %v", err)
	}

	_, err := Validate(baseFields(t, map[string]any{"secret": "wrong"}), "test-secret")
	if !errors.Is(err, ErrInvalidSecret) {
		t.Fatalf("expected ErrInvalidSecret, got %v", err)
	}
	if errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("secret mismatch must be distinct from schema failure")
	}

	_, err = Validate(baseFields(t, nil, "secret"), "test-secret")
	if !errors.Is(err, ErrInvalidSecret) {
		t.Fatalf("missing secret should fail when one is configured, got %v", err)
	}

	// schema failures win over secret failures
	_, err = Validate(baseFields(t, map[string]any{"secret": "wrong", "round": "1"}), "test-secret")
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected schema failure first, got %v", err)
	}
}
