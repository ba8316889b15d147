package testutil

import (
	"context"
	"testing"
)

func TestLogger_NotNil(t *testing.T) {
	l := Logger()
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewSession_Usable(t *testing.T) {
	sess := NewSession(t)
	if sess == nil {
		t.Fatal("expected non-nil session")
	}
	if err := sess.DB().PingContext(context.Background()); err != nil {
		t.Fatalf("PingContext: %v", err)
	}
}
