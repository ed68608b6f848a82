package types

import (
	"context"
	"testing"
)

func TestCallInfo_Layering(t *testing.T) {
	ctx := context.Background()
	if got := CallInfoFrom(ctx); got != (CallInfo{}) {
		t.Fatalf("expected empty CallInfo, got %+v", got)
	}

	ctx = WithSessionID(ctx, "s-1")
	roleCtx := WithRole(ctx, "extraction")

	if got := CallInfoFrom(roleCtx); got.Role != "extraction" || got.SessionID != "s-1" {
		t.Errorf("unexpected CallInfo %+v", got)
	}
	if got := CallInfoFrom(ctx); got.Role != "" {
		t.Errorf("parent context must not see child role, got %q", got.Role)
	}
}
