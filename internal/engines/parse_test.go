package engines

import (
	"strings"
	"testing"

	"github.com/haasonsaas/flowline/pkg/models"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, true},
		{"prose wrapped", `Sure, here it is: {"a":1}. Done.`, `{"a":1}`, true},
		{"code fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`, true},
		{"nested braces", `{"a":{"b":2}}`, `{"a":{"b":2}}`, true},
		{"brace inside string", `{"a":"}"}`, `{"a":"}"}`, true},
		{"escaped quote", `{"a":"\"}\""}`, `{"a":"\"}\""}`, true},
		{"no object", "nothing here", "", false},
		{"unbalanced", `{"a":1`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSON(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("ExtractJSON(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestParseEnvelope(t *testing.T) {
	text := `The step is done. {"status": "complete", "confidence": 0.85, "summary": "built the thing", "artifacts": ["out.txt"]}`
	env, err := ParseEnvelope(text)
	if err != nil {
		t.Fatal(err)
	}
	if env.Status != models.HandoffComplete || env.Confidence != 0.85 {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if len(env.Artifacts) != 1 || env.Artifacts[0] != "out.txt" {
		t.Fatalf("artifacts = %v", env.Artifacts)
	}
}

func TestParseEnvelopeRejectsBadStatus(t *testing.T) {
	if _, err := ParseEnvelope(`{"status": "excellent"}`); err == nil {
		t.Fatal("status outside the enum must be rejected")
	}
}

func TestParseEnvelopeRejectsMissingStatus(t *testing.T) {
	if _, err := ParseEnvelope(`{"confidence": 0.5}`); err == nil {
		t.Fatal("envelope without status must be rejected")
	}
}

func TestParseEnvelopeNoJSON(t *testing.T) {
	if _, err := ParseEnvelope("I could not produce a summary."); err == nil {
		t.Fatal("prose without JSON must be rejected")
	}
}

func TestParseSignal(t *testing.T) {
	sig, err := ParseSignal(`{"decision": "branch", "target": "review", "confidence": 0.7, "reason": "ready"}`)
	if err != nil {
		t.Fatal(err)
	}
	if sig.Decision != models.RouteBranch || sig.Target != "review" {
		t.Fatalf("unexpected signal: %+v", sig)
	}
}

func TestParseSignalRejectsUnknownDecision(t *testing.T) {
	if _, err := ParseSignal(`{"decision": "teleport"}`); err == nil {
		t.Fatal("decision outside the enum must be rejected")
	}
}

func TestParseSignalConfidenceBounds(t *testing.T) {
	if _, err := ParseSignal(`{"decision": "next", "confidence": 1.5}`); err == nil {
		t.Fatal("confidence above 1 must be rejected")
	}
}

func TestParseSignalOversizedPayloadStillParses(t *testing.T) {
	padding := strings.Repeat("x", 10000)
	text := "prefix " + padding + ` {"decision": "done", "confidence": 1}`
	sig, err := ParseSignal(text)
	if err != nil {
		t.Fatal(err)
	}
	if sig.Decision != models.RouteDone {
		t.Fatalf("decision = %q", sig.Decision)
	}
}
