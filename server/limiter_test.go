package server

import (
	"context"
	"testing"
	"time"
)

func TestLocalLimiterBudget(t *testing.T) {
	l := NewLocalLimiter()
	ctx := context.Background()
	spec := actionLimits[KindSearchJoin]

	for i := 0; i < spec.Max; i++ {
		ok, _ := l.Allow(ctx, "conn-a", KindSearchJoin)
		if !ok {
			t.Fatalf("request %d denied inside the budget of %d", i+1, spec.Max)
		}
	}
	ok, retry := l.Allow(ctx, "conn-a", KindSearchJoin)
	if ok {
		t.Fatal("request allowed past the budget")
	}
	if retry <= 0 || retry > spec.Window {
		t.Errorf("retry hint = %v, expected within (0, %v]", retry, spec.Window)
	}
}

func TestLocalLimiterIsPerConnection(t *testing.T) {
	l := NewLocalLimiter()
	ctx := context.Background()
	spec := actionLimits[KindCancel]

	for i := 0; i < spec.Max; i++ {
		l.Allow(ctx, "conn-a", KindCancel)
	}
	if ok, _ := l.Allow(ctx, "conn-a", KindCancel); ok {
		t.Fatal("conn-a allowed past its budget")
	}
	if ok, _ := l.Allow(ctx, "conn-b", KindCancel); !ok {
		t.Error("conn-b throttled by conn-a's spending")
	}
}

func TestLocalLimiterUnknownKindPasses(t *testing.T) {
	l := NewLocalLimiter()
	ok, retry := l.Allow(context.Background(), "conn-a", ActionKind("no_such_kind"))
	if !ok || retry != 0 {
		t.Errorf("Allow(unknown kind) = %v, %v; expected open", ok, retry)
	}
}

func TestLocalLimiterRefills(t *testing.T) {
	l := NewLocalLimiter()
	ctx := context.Background()
	spec := actionLimits[KindShot]

	for i := 0; i < spec.Max; i++ {
		l.Allow(ctx, "conn-a", KindShot)
	}
	ok, retry := l.Allow(ctx, "conn-a", KindShot)
	if ok {
		t.Fatal("request allowed past the budget")
	}

	time.Sleep(retry + 50*time.Millisecond)
	if ok, _ := l.Allow(ctx, "conn-a", KindShot); !ok {
		t.Error("budget did not refill after the retry hint elapsed")
	}
}
