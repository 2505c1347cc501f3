package httpapi

import (
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
)

func TestRegisterRules_ReportsFailures(t *testing.T) {
	if err := registerRules(struct{}{}, domainRules); err == nil || !strings.Contains(err.Error(), "want *validator.Validate") {
		t.Fatalf("expected engine type error, got %v", err)
	}

	v := validator.New()
	bad := append([]rule{}, domainRules...)
	bad = append(bad, rule{tag: "", fn: domainRules[0].fn})
	if err := registerRules(v, bad); err == nil {
		t.Fatalf("expected an empty tag to be rejected")
	}
}

func TestRegisterRules_DomainTags(t *testing.T) {
	v := validator.New()
	if err := registerRules(v, domainRules); err != nil {
		t.Fatalf("register: %v", err)
	}
	type body struct {
		Disposition string `validate:"required,disposition"`
		Kind        string `validate:"omitempty,engagement"`
	}
	if err := v.Struct(body{Disposition: "DO_NOT_CALL", Kind: "cta_clicked"}); err != nil {
		t.Fatalf("valid body rejected: %v", err)
	}
	if err := v.Struct(body{Disposition: "MAYBE"}); err == nil {
		t.Fatalf("unknown disposition accepted")
	}
	if err := v.Struct(body{Disposition: "NO_ANSWER", Kind: "wave"}); err == nil {
		t.Fatalf("unknown engagement accepted")
	}
	if err := RegisterValidators(); err != nil {
		t.Fatalf("gin engine registration: %v", err)
	}
}
