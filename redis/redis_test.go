package redis

import (
	"context"
	"testing"
	"time"
)

func clientSetup(t *testing.T) *Client {
	client := NewClient("localhost:6379")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		client.Close()
		t.Skip("Redis not available, skipping tests. Start Redis with: docker run -d -p 6379:6379 redis:latest")
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestTerminationFlag(t *testing.T) {
	c := clientSetup(t)
	ctx := context.Background()
	runID := "sstrace-test-run"
	if err := c.ClearTerminationFlag(ctx, runID); err != nil {
		t.Fatalf("ClearTerminationFlag() = %v", err)
	}
	f, err := c.GetTerminationFlag(ctx, runID)
	if err != nil || f != 0 {
		t.Fatalf("GetTerminationFlag() on a fresh run = %d, %v; want 0, nil", f, err)
	}
	for _, flag := range []int{1, 0} {
		if err := c.SetTerminationFlag(ctx, runID, flag); err != nil {
			t.Fatalf("SetTerminationFlag() = %v", err)
		}
		f, err := c.GetTerminationFlag(ctx, runID)
		if err != nil {
			t.Fatalf("GetTerminationFlag() = %v", err)
		}
		if f != flag {
			t.Errorf("GetTerminationFlag() = %d, want %d", f, flag)
		}
	}
	_ = c.ClearTerminationFlag(ctx, runID)
}

func TestGetTerminationFlag_Unreachable(t *testing.T) {
	c := NewClient("127.0.0.1:1")
	defer c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := c.GetTerminationFlag(ctx, "x"); err == nil {
		t.Error("GetTerminationFlag() succeeded without a server")
	}
}
