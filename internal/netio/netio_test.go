package netio

import (
	"context"
	"testing"
	"time"
)

func TestReadPacketRetryOnTimeout(t *testing.T) {
	conn, err := Listen(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer conn.Close()

	_, _, err = ReadPacket(conn, 20*time.Millisecond)
	if err != ErrRetry {
		t.Fatalf("got %v, want ErrRetry", err)
	}
}

func TestReadPacketReceivesDatagram(t *testing.T) {
	conn, err := Listen(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer conn.Close()

	sender, err := Listen(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer sender.Close()

	if _, err := sender.WriteTo([]byte("hi"), conn.LocalAddr()); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	data, _, err := ReadPacket(conn, time.Second)
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if string(data) != "hi" {
		t.Fatalf("got %q, want %q", data, "hi")
	}
}
