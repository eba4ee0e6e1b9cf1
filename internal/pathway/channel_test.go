package pathway

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		input   string
		want    Policy
		wantErr bool
	}{
		{"", PolicyBlock, false},
		{"block", PolicyBlock, false},
		{"BLOCK", PolicyBlock, false},
		{"drop_newest", PolicyDropNewest, false},
		{"drop_oldest", PolicyDropOldest, false},
		{"drop_everything", PolicyBlock, true},
	}

	for _, tt := range tests {
		got, err := ParsePolicy(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePolicy(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParsePolicy(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestPolicy_String(t *testing.T) {
	tests := []struct {
		policy Policy
		want   string
	}{
		{PolicyBlock, "block"},
		{PolicyDropNewest, "drop_newest"},
		{PolicyDropOldest, "drop_oldest"},
		{Policy(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.policy.String(); got != tt.want {
			t.Errorf("Policy(%d).String() = %q, want %q", tt.policy, got, tt.want)
		}
	}
}

func TestChannel_DropNewest(t *testing.T) {
	ch := newChannel("test", "10.0.0.1", ChannelConfig{QueueSize: 2, Policy: PolicyDropNewest})

	for _, p := range []string{"a", "b", "c"} {
		ch.write([]byte(p))
	}

	stats := ch.Stats()
	if stats.Delivered != 2 || stats.Dropped != 1 || stats.Queued != 2 {
		t.Errorf("Stats() = %+v, want delivered 2 dropped 1 queued 2", stats)
	}

	ctx := context.Background()
	for _, want := range []string{"a", "b"} {
		got, err := ch.Recv(ctx)
		if err != nil {
			t.Fatalf("Recv() error = %v", err)
		}
		if string(got) != want {
			t.Errorf("Recv() = %q, want %q", got, want)
		}
	}
}

func TestChannel_DropOldest(t *testing.T) {
	ch := newChannel("test", "10.0.0.1", ChannelConfig{QueueSize: 2, Policy: PolicyDropOldest})

	for _, p := range []string{"a", "b", "c"} {
		if !ch.write([]byte(p)) {
			t.Fatalf("write(%q) rejected", p)
		}
	}

	stats := ch.Stats()
	if stats.Delivered != 3 || stats.Dropped != 1 {
		t.Errorf("Stats() = %+v, want delivered 3 dropped 1", stats)
	}

	ctx := context.Background()
	for _, want := range []string{"b", "c"} {
		got, _ := ch.Recv(ctx)
		if string(got) != want {
			t.Errorf("Recv() = %q, want %q", got, want)
		}
	}
}

func TestChannel_BlockUntilRoom(t *testing.T) {
	ch := newChannel("test", "10.0.0.1", ChannelConfig{QueueSize: 1, Policy: PolicyBlock})
	ch.write([]byte("first"))

	written := make(chan bool, 1)
	go func() {
		written <- ch.write([]byte("second"))
	}()

	select {
	case <-written:
		t.Fatal("write should block while the queue is full")
	case <-time.After(50 * time.Millisecond):
	}

	if got, _ := ch.Recv(context.Background()); string(got) != "first" {
		t.Errorf("Recv() = %q, want first", got)
	}

	select {
	case ok := <-written:
		if !ok {
			t.Error("blocked write should succeed once room is available")
		}
	case <-time.After(time.Second):
		t.Fatal("write did not unblock")
	}
}

func TestChannel_CloseUnblocksWriter(t *testing.T) {
	ch := newChannel("test", "10.0.0.1", ChannelConfig{QueueSize: 1, Policy: PolicyBlock})
	ch.write([]byte("first"))

	written := make(chan bool, 1)
	go func() {
		written <- ch.write([]byte("second"))
	}()

	time.Sleep(20 * time.Millisecond)
	ch.Close()

	select {
	case ok := <-written:
		if ok {
			t.Error("write to a closed channel should be rejected")
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock writer")
	}
}

func TestChannel_RecvAfterClose(t *testing.T) {
	ch := newChannel("test", "10.0.0.1", DefaultChannelConfig())
	ch.write([]byte("queued"))
	ch.Close()
	ch.Close()

	ctx := context.Background()
	got, err := ch.Recv(ctx)
	if err != nil || string(got) != "queued" {
		t.Fatalf("Recv() = (%q, %v), want queued datagram", got, err)
	}
	if _, err := ch.Recv(ctx); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("Recv() error = %v, want ErrChannelClosed", err)
	}
	if ch.write([]byte("late")) {
		t.Error("write after Close should be rejected")
	}
}

func TestChannel_RecvContextCancel(t *testing.T) {
	ch := newChannel("test", "10.0.0.1", DefaultChannelConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := ch.Recv(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Recv() error = %v, want DeadlineExceeded", err)
	}
}

func TestChannel_RateLimit(t *testing.T) {
	ch := newChannel("test", "10.0.0.1", ChannelConfig{QueueSize: 16, RateLimit: 1, RateBurst: 2})

	accepted := 0
	for i := 0; i < 5; i++ {
		if ch.write([]byte{byte(i)}) {
			accepted++
		}
	}

	if accepted != 2 {
		t.Errorf("accepted = %d, want 2 (burst)", accepted)
	}
	if ch.Stats().Dropped != 3 {
		t.Errorf("Dropped = %d, want 3", ch.Stats().Dropped)
	}
}

func TestChannel_Identity(t *testing.T) {
	a := newChannel("a", "k", DefaultChannelConfig())
	b := newChannel("b", "k", DefaultChannelConfig())

	if a.ID() == b.ID() {
		t.Error("channels should have distinct IDs")
	}
	if a.CreatedAt().IsZero() {
		t.Error("CreatedAt should be set")
	}
	if cap(a.queue) != DefaultChannelConfig().QueueSize {
		t.Errorf("queue capacity = %d, want default", cap(a.queue))
	}

	zero := newChannel("z", "k", ChannelConfig{})
	if cap(zero.queue) != DefaultChannelConfig().QueueSize {
		t.Errorf("zero QueueSize should fall back to default, got %d", cap(zero.queue))
	}
}
