package proxy

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/go-mtproxy/mtproxy/internal/config"
)

func TestPrintInvitesSortsByNameAndRendersFields(t *testing.T) {
	users := []config.User{
		{Name: "zack"},
		{Name: "alice"},
	}
	users[0].Secret = [16]byte{0xaa}
	users[1].Secret = [16]byte{0xbb}

	var buf bytes.Buffer
	PrintInvites(&buf, users, "203.0.113.7", 443)
	out := buf.String()

	aliceIdx := strings.Index(out, "alice:")
	zackIdx := strings.Index(out, "zack:")
	if aliceIdx == -1 || zackIdx == -1 || aliceIdx > zackIdx {
		t.Fatalf("expected alice before zack, got:\n%s", out)
	}
	if !strings.Contains(out, "server=203.0.113.7") {
		t.Fatalf("expected server query param, got:\n%s", out)
	}
	if !strings.Contains(out, "port=443") {
		t.Fatalf("expected port query param, got:\n%s", out)
	}
	if !strings.Contains(out, "secret=bb000000000000000000000000000000") {
		t.Fatalf("expected alice's secret hex, got:\n%s", out)
	}
	if !strings.Contains(out, "server=203.0.113.7&port=443&secret=") {
		t.Fatalf("expected server, port, secret in that literal order, got:\n%s", out)
	}
}

func TestStatsReporterRunTicksUntilCanceled(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	stats := NewStats()
	stats.ForUser("dave").Connected()

	reporter := NewStatsReporter(stats, 10*time.Millisecond, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reporter.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("reporter did not stop after context cancel")
	}

	if !strings.Contains(buf.String(), "dave") {
		t.Fatalf("expected at least one rendered tick mentioning dave, got:\n%s", buf.String())
	}
}
