package capture

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/m-lab/go/rtx"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestConfig_Args(t *testing.T) {
	c := Config{Binary: "tcpdump", Interface: "eth0", Port: 5202, Output: "/tmp/x.pcap", Owner: "root", FileSizeMB: 100}
	want := []string{"-i", "eth0", "-w", "/tmp/x.pcap", "-C", "100", "-Z", "root", "tcp", "port", "5202"}
	if diff := cmp.Diff(want, c.Args()); diff != "" {
		t.Errorf("Args() mismatch (-want +got):\n%s", diff)
	}
	c = Config{Interface: "any", Output: "out.pcap"}
	if diff := cmp.Diff([]string{"-i", "any", "-w", "out.pcap"}, c.Args()); diff != "" {
		t.Errorf("Args() mismatch (-want +got):\n%s", diff)
	}
}

func TestCapture_Stop(t *testing.T) {
	c, err := start(context.Background(), "sleep", "30")
	rtx.Must(err, "could not start sleep")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Stop(ctx); err != nil {
		t.Errorf("Stop() = %v", err)
	}
	// Idempotent.
	if err := c.Stop(ctx); err != nil {
		t.Errorf("second Stop() = %v", err)
	}
	select {
	case <-c.Done():
	default:
		t.Error("process still running after Stop")
	}
}

func TestCapture_StopKills(t *testing.T) {
	// The shell ignores SIGTERM, so only the kill ends it.
	c, err := start(context.Background(), "sh", "-c", "trap '' TERM; sleep 30")
	rtx.Must(err, "could not start sh")
	time.Sleep(100 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	c.Stop(ctx)
	<-c.Done()
}

func TestCapture_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c, err := start(ctx, "sleep", "30")
	rtx.Must(err, "could not start sleep")
	cancel()
	if err := c.Wait(); err == nil {
		t.Error("Wait() = nil, want the signal exit status")
	}
}

func TestCapture_Exit(t *testing.T) {
	c, err := start(context.Background(), "false")
	rtx.Must(err, "could not start false")
	if err := c.Wait(); err == nil {
		t.Error("Wait() = nil for a failing process")
	}
	if err := c.Stop(context.Background()); err == nil {
		t.Error("Stop() = nil for a failing process")
	}
}

func TestStart_Missing(t *testing.T) {
	if _, err := Start(context.Background(), Config{Binary: "this-binary-does-not-exist"}); err == nil {
		t.Error("Start() succeeded for a missing binary")
	}
}

func TestCapture_Run(t *testing.T) {
	c, err := start(context.Background(), "true")
	rtx.Must(err, "could not start true")
	if err := c.Run(context.Background()); err == nil {
		t.Error("Run() = nil for a process that exited on its own")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c, err = start(ctx, "sleep", "30")
	rtx.Must(err, "could not start sleep")
	cancel()
	if err := c.Run(ctx); err != nil {
		t.Errorf("Run() = %v after cancel", err)
	}
	c.Wait()
}
