package pregel

import (
	"testing"
	"time"
)

func TestGetNodeTimeoutPrefersPolicyOverride(t *testing.T) {
	policy := &NodePolicy{Timeout: 5 * time.Second}
	if got := getNodeTimeout(policy, 30*time.Second); got != 5*time.Second {
		t.Fatalf("expected policy timeout to win, got %v", got)
	}
}

func TestGetNodeTimeoutFallsBackToDefault(t *testing.T) {
	if got := getNodeTimeout(nil, 30*time.Second); got != 30*time.Second {
		t.Fatalf("expected default timeout, got %v", got)
	}
	if got := getNodeTimeout(&NodePolicy{}, 30*time.Second); got != 30*time.Second {
		t.Fatalf("expected default timeout when policy has no override, got %v", got)
	}
}

func TestGetNodeTimeoutUnlimitedWhenBothZero(t *testing.T) {
	if got := getNodeTimeout(nil, 0); got != 0 {
		t.Fatalf("expected unlimited (0), got %v", got)
	}
}
