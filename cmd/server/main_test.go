package main

import (
	"context"
	"net"
	"path/filepath"
	"strings"
	"testing"
)

func TestNotifySystemd(t *testing.T) {
	t.Run("no socket", func(t *testing.T) {
		t.Setenv("NOTIFY_SOCKET", "")

		err := notifySystemd()
		if err == nil || !strings.Contains(err.Error(), "NOTIFY_SOCKET not set") {
			t.Errorf("err = %v, want NOTIFY_SOCKET not set", err)
		}
	})

	t.Run("unreachable socket", func(t *testing.T) {
		t.Setenv("NOTIFY_SOCKET", filepath.Join(t.TempDir(), "gone.sock"))

		err := notifySystemd()
		if err == nil || !strings.Contains(err.Error(), "dial failed") {
			t.Errorf("err = %v, want dial failure", err)
		}
	})

	t.Run("delivers READY", func(t *testing.T) {
		sockPath := filepath.Join(t.TempDir(), "notify.sock")
		var lc net.ListenConfig
		conn, err := lc.ListenPacket(context.Background(), "unixgram", sockPath)
		if err != nil {
			t.Fatalf("listen unixgram: %v", err)
		}
		defer func() { _ = conn.Close() }()

		t.Setenv("NOTIFY_SOCKET", sockPath)
		if err := notifySystemd(); err != nil {
			t.Fatalf("notifySystemd() = %v", err)
		}

		buf := make([]byte, 64)
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if got := string(buf[:n]); got != "READY=1" {
			t.Errorf("payload = %q, want READY=1", got)
		}
	})
}
