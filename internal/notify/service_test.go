package notify

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"habitd/internal/model"
	"habitd/internal/transport"
	"habitd/pkg/logx"
)

type fakeAdapter struct {
	calls  atomic.Int32
	failN  int32
	err    error
	last   atomic.Value // transport.Message
	panics bool
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Send(_ context.Context, msg transport.Message) error {
	n := f.calls.Add(1)
	f.last.Store(msg)
	if f.panics {
		panic("boom")
	}
	if n <= f.failN {
		if f.err != nil {
			return f.err
		}
		return errors.New("transient")
	}
	return nil
}

func testReminder() model.Reminder {
	return model.Reminder{
		ID:      "rem-1",
		OwnerID: "user-1",
		Title:   "Drink water",
		Channel: model.ChannelPush,
	}
}

func fastConfig() Config {
	return Config{
		RatePerSec:    100,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
		SendTimeout:   time.Second,
		DedupWindow:   time.Minute,
	}
}

func TestSendDelivers(t *testing.T) {
	t.Parallel()
	fake := &fakeAdapter{}
	svc := New(fastConfig(), logx.Nop())
	svc.Register(model.ChannelPush, fake)

	out := svc.Send(context.Background(), testReminder(), SendOptions{FireAt: time.Now()})
	if !out.Delivered {
		t.Fatalf("Delivered = false, err = %v", out.Err)
	}
	if out.Attempts != 1 {
		t.Fatalf("Attempts = %d, want 1", out.Attempts)
	}
	msg := fake.last.Load().(transport.Message)
	if msg.ReminderID != "rem-1" || msg.Title != "Drink water" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestSendRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	fake := &fakeAdapter{failN: 2}
	svc := New(fastConfig(), logx.Nop())
	svc.Register(model.ChannelPush, fake)

	out := svc.Send(context.Background(), testReminder(), SendOptions{FireAt: time.Now()})
	if !out.Delivered {
		t.Fatalf("Delivered = false after retries, err = %v", out.Err)
	}
	if out.Attempts != 3 {
		t.Fatalf("Attempts = %d, want 3", out.Attempts)
	}
}

func TestSendExhaustsRetries(t *testing.T) {
	t.Parallel()
	wantErr := errors.New("gateway down")
	fake := &fakeAdapter{failN: 99, err: wantErr}
	svc := New(fastConfig(), logx.Nop())
	svc.Register(model.ChannelPush, fake)

	out := svc.Send(context.Background(), testReminder(), SendOptions{FireAt: time.Now()})
	if out.Delivered {
		t.Fatal("Delivered = true, want false")
	}
	if out.Attempts != 3 {
		t.Fatalf("Attempts = %d, want 3", out.Attempts)
	}
	if !errors.Is(out.Err, wantErr) {
		t.Fatalf("Err = %v, want %v", out.Err, wantErr)
	}
}

func TestSendNoTransport(t *testing.T) {
	t.Parallel()
	svc := New(fastConfig(), logx.Nop())

	out := svc.Send(context.Background(), testReminder(), SendOptions{FireAt: time.Now()})
	if out.Delivered {
		t.Fatal("Delivered = true for unrouted channel")
	}
	if !errors.Is(out.Err, ErrNoTransport) {
		t.Fatalf("Err = %v, want ErrNoTransport", out.Err)
	}
}

func TestSendDedupSuppressesSameFire(t *testing.T) {
	t.Parallel()
	fake := &fakeAdapter{}
	svc := New(fastConfig(), logx.Nop())
	svc.Register(model.ChannelPush, fake)

	fireAt := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	first := svc.Send(context.Background(), testReminder(), SendOptions{FireAt: fireAt})
	second := svc.Send(context.Background(), testReminder(), SendOptions{FireAt: fireAt})

	if !first.Delivered || first.Err != nil {
		t.Fatalf("first send: %+v", first)
	}
	if !second.Delivered || !errors.Is(second.Err, ErrDuplicate) {
		t.Fatalf("second send = %+v, want suppressed duplicate", second)
	}
	if got := fake.calls.Load(); got != 1 {
		t.Fatalf("adapter calls = %d, want 1", got)
	}

	// A different fire instant is a different delivery.
	third := svc.Send(context.Background(), testReminder(), SendOptions{FireAt: fireAt.Add(24 * time.Hour)})
	if !third.Delivered || third.Err != nil {
		t.Fatalf("third send: %+v", third)
	}
	if got := fake.calls.Load(); got != 2 {
		t.Fatalf("adapter calls = %d, want 2", got)
	}
}

func TestSendTestBypassesDedup(t *testing.T) {
	t.Parallel()
	fake := &fakeAdapter{}
	svc := New(fastConfig(), logx.Nop())
	svc.Register(model.ChannelPush, fake)

	fireAt := time.Now()
	for i := 0; i < 3; i++ {
		out := svc.Send(context.Background(), testReminder(), SendOptions{FireAt: fireAt, Test: true})
		if !out.Delivered || out.Err != nil {
			t.Fatalf("test send %d: %+v", i, out)
		}
	}
	if got := fake.calls.Load(); got != 3 {
		t.Fatalf("adapter calls = %d, want 3", got)
	}
}

func TestSendRecoversAdapterPanic(t *testing.T) {
	t.Parallel()
	fake := &fakeAdapter{panics: true}
	cfg := fastConfig()
	cfg.RetryMax = 0
	svc := New(cfg, logx.Nop())
	svc.Register(model.ChannelPush, fake)

	out := svc.Send(context.Background(), testReminder(), SendOptions{FireAt: time.Now()})
	if out.Delivered {
		t.Fatal("Delivered = true from panicking adapter")
	}
	if out.Err == nil {
		t.Fatal("Err = nil, want panic error")
	}
}

func TestHistoryIsBoundedAndCopied(t *testing.T) {
	t.Parallel()
	fake := &fakeAdapter{}
	cfg := fastConfig()
	cfg.DedupWindow = 0
	cfg.RatePerSec = 100000
	svc := New(cfg, logx.Nop())
	svc.Register(model.ChannelPush, fake)

	for i := 0; i < historyCap+10; i++ {
		svc.Send(context.Background(), testReminder(), SendOptions{FireAt: time.Now()})
	}
	h := svc.History()
	if len(h) != historyCap {
		t.Fatalf("history length = %d, want %d", len(h), historyCap)
	}
	h[0].ReminderID = "mutated"
	if svc.History()[0].ReminderID == "mutated" {
		t.Fatal("History returned shared backing array")
	}
}

func TestApplySwapsPolicy(t *testing.T) {
	t.Parallel()
	fake := &fakeAdapter{failN: 99}
	svc := New(fastConfig(), logx.Nop())
	svc.Register(model.ChannelPush, fake)

	cfg := fastConfig()
	cfg.RetryMax = 0
	cfg.DedupWindow = 0
	svc.Apply(cfg)

	out := svc.Send(context.Background(), testReminder(), SendOptions{FireAt: time.Now()})
	if out.Attempts != 1 {
		t.Fatalf("Attempts = %d after RetryMax=0 applied, want 1", out.Attempts)
	}
}
