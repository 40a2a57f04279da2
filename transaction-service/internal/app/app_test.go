package app

import (
	"context"
	"errors"
	"testing"
)

func TestCloseRunsInReverseAndJoinsErrors(t *testing.T) {
	var order []string
	boom := errors.New("redis close failed")
	a := &App{closers: []func(context.Context) error{
		func(context.Context) error { order = append(order, "tracing"); return nil },
		func(context.Context) error { order = append(order, "db"); return nil },
		func(context.Context) error { order = append(order, "redis"); return boom },
	}}

	err := a.Close(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	want := []string{"redis", "db", "tracing"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if err := a.Close(context.Background()); err != nil {
		t.Errorf("second Close = %v", err)
	}
}
