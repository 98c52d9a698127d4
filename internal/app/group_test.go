package app

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGroup_FirstFailureCancelsOthers(t *testing.T) {
	boom := errors.New("boom")
	stopped := make(chan struct{})

	err := Group(context.Background(),
		func(ctx context.Context) error {
			<-ctx.Done()
			close(stopped)
			return nil
		},
		func(context.Context) error { return boom },
	)
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("sibling not cancelled")
	}
}

func TestGroup_AllSucceed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Group(ctx,
		func(ctx context.Context) error { <-ctx.Done(); return nil },
		func(context.Context) error { return nil },
	)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
}
