package channel

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

func TestPipe_RoundTrip(t *testing.T) {
	a, b, err := Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = a.Close(); _ = b.Close() }()

	sent := NewMessage(CmdResult,
		"filename", "spec/a_spec.rb",
		"test_count", 12,
		"failed", true,
		"parts_to_run", []string{"a.feature:3", "a.feature:9"},
	)
	if err := a.Write(sent); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := b.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Command() != CmdResult {
		t.Errorf("command = %q, want %q", got.Command(), CmdResult)
	}
	if got.String("filename") != "spec/a_spec.rb" {
		t.Errorf("filename = %q", got.String("filename"))
	}
	if got.Int("test_count") != 12 {
		t.Errorf("test_count = %d, want 12", got.Int("test_count"))
	}
	if !got.Bool("failed") {
		t.Error("expected failed=true")
	}
	parts := got.Strings("parts_to_run")
	if len(parts) != 2 || parts[1] != "a.feature:9" {
		t.Errorf("parts_to_run = %v", parts)
	}
}

func TestPipe_BothDirections(t *testing.T) {
	a, b, err := Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = a.Close(); _ = b.Close() }()

	if err := a.Write(NewMessage(CmdNextFile, "framework", "rspec")); err != nil {
		t.Fatal(err)
	}
	if msg, err := b.Read(); err != nil || msg.Command() != CmdNextFile {
		t.Fatalf("b.Read = %v, %v", msg, err)
	}
	if err := b.Write(NewMessage(CmdDrain)); err != nil {
		t.Fatal(err)
	}
	if msg, err := a.Read(); err != nil || msg.Command() != CmdDrain {
		t.Fatalf("a.Read = %v, %v", msg, err)
	}
}

func TestRead_CleanEOFReturnsNil(t *testing.T) {
	var buf bytes.Buffer
	w := New(nil, &buf)
	if err := w.Write(NewMessage(CmdDebug, "text", "hi")); err != nil {
		t.Fatal(err)
	}

	r := New(&buf, nil)
	msg, err := r.Read()
	if err != nil || msg == nil {
		t.Fatalf("first read = %v, %v", msg, err)
	}
	msg, err = r.Read()
	if err != nil {
		t.Fatalf("expected nil error on EOF, got %v", err)
	}
	if msg != nil {
		t.Fatalf("expected nil message on EOF, got %v", msg)
	}
	// stays at EOF
	if msg, err := r.Read(); msg != nil || err != nil {
		t.Fatalf("second EOF read = %v, %v", msg, err)
	}
}

func TestRead_ProtocolInvalid(t *testing.T) {
	header := func(n uint32) []byte {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, n)
		return b
	}

	cases := map[string][]byte{
		"truncated header": {0x00, 0x01},
		"truncated body":   append(header(20), []byte(`{"command":`)...),
		"not json":         append(header(5), []byte("hello")...),
		"no command":       append(header(9), []byte(`{"a":"b"}`)...),
		"oversize":         header(MaxFrameSize + 1),
		"shell noise":      []byte("bash: testforge: command not found\n"),
	}

	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			r := New(bytes.NewReader(data), nil)
			msg, err := r.Read()
			if msg != nil {
				t.Fatalf("expected no message, got %v", msg)
			}
			if !errors.Is(err, ErrProtocolInvalid) {
				t.Fatalf("expected ErrProtocolInvalid, got %v", err)
			}
		})
	}
}

func TestClose_Idempotent(t *testing.T) {
	a, b, err := Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = b.Close() }()

	if err := a.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := a.Write(NewMessage(CmdDrain)); !errors.Is(err, ErrClosed) {
		t.Errorf("write after close = %v, want ErrClosed", err)
	}
	if msg, err := a.Read(); msg != nil || err != nil {
		t.Errorf("read after close = %v, %v", msg, err)
	}

	// the peer sees a clean end of stream
	if msg, err := b.Read(); msg != nil || err != nil {
		t.Errorf("peer read after close = %v, %v", msg, err)
	}
}

func TestWrite_RequiresCommand(t *testing.T) {
	var buf bytes.Buffer
	c := New(nil, &buf)
	if err := c.Write(Message{"text": "x"}); err == nil {
		t.Fatal("expected error for message without command")
	}
	if buf.Len() != 0 {
		t.Errorf("nothing should be written, got %d bytes", buf.Len())
	}
}

func TestReadSelect_ReturnsReadySubset(t *testing.T) {
	a1, b1, _ := Pipe()
	a2, b2, _ := Pipe()
	a3, b3, _ := Pipe()
	defer func() {
		for _, c := range []*Channel{a1, b1, a2, b2, a3, b3} {
			_ = c.Close()
		}
	}()

	if err := a2.Write(NewMessage(CmdNextFile)); err != nil {
		t.Fatal(err)
	}

	ready, err := ReadSelect(context.Background(), []*Channel{b1, b2, b3})
	if err != nil {
		t.Fatal(err)
	}
	if len(ready) != 1 || ready[0] != b2 {
		t.Fatalf("ready = %v, want only b2", ready)
	}
	msg, err := b2.Read()
	if err != nil || msg.Command() != CmdNextFile {
		t.Fatalf("read = %v, %v", msg, err)
	}
}

func TestReadSelect_ClosedPeerIsReady(t *testing.T) {
	a, b, _ := Pipe()
	defer func() { _ = b.Close() }()
	_ = a.Close()

	ready, err := ReadSelect(context.Background(), []*Channel{b})
	if err != nil {
		t.Fatal(err)
	}
	if len(ready) != 1 {
		t.Fatalf("expected closed channel to be ready, got %d", len(ready))
	}
	if msg, err := b.Read(); msg != nil || err != nil {
		t.Fatalf("read = %v, %v, want EOF sentinel", msg, err)
	}
}

func TestReadSelect_PendingMessagesSurviveNextSelect(t *testing.T) {
	a1, b1, _ := Pipe()
	a2, b2, _ := Pipe()
	defer func() {
		for _, c := range []*Channel{a1, b1, a2, b2} {
			_ = c.Close()
		}
	}()

	_ = a1.Write(NewMessage(CmdDebug, "text", "one"))
	_ = a2.Write(NewMessage(CmdDebug, "text", "two"))

	seen := map[string]bool{}
	deadline := time.After(5 * time.Second)
	for len(seen) < 2 {
		select {
		case <-deadline:
			t.Fatalf("timed out, saw %v", seen)
		default:
		}
		ready, err := ReadSelect(context.Background(), []*Channel{b1, b2})
		if err != nil {
			t.Fatal(err)
		}
		for _, c := range ready {
			msg, err := c.Read()
			if err != nil {
				t.Fatal(err)
			}
			seen[msg.String("text")] = true
		}
	}
}

func TestReadSelect_ContextCancel(t *testing.T) {
	a, b, _ := Pipe()
	defer func() { _ = a.Close(); _ = b.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := ReadSelect(ctx, []*Channel{b})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestMessage_IntAcceptsJSONNumbers(t *testing.T) {
	var buf bytes.Buffer
	_ = New(nil, &buf).Write(NewMessage(CmdResult, "failure_count", 3))
	msg, err := New(&buf, nil).Read()
	if err != nil {
		t.Fatal(err)
	}
	if msg.Int("failure_count") != 3 {
		t.Errorf("failure_count = %d, want 3", msg.Int("failure_count"))
	}
	if msg.Int("missing") != 0 {
		t.Errorf("missing key should be 0")
	}
}

func TestMessage_Decode(t *testing.T) {
	var buf bytes.Buffer
	_ = New(nil, &buf).Write(NewMessage(CmdConfiguration, "configuration", map[string]any{
		"process_count": 3,
		"environment":   "ci",
	}))
	msg, err := New(&buf, nil).Read()
	if err != nil {
		t.Fatal(err)
	}

	var cfg struct {
		ProcessCount int    `json:"process_count"`
		Environment  string `json:"environment"`
	}
	if err := msg.Decode("configuration", &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.ProcessCount != 3 || cfg.Environment != "ci" {
		t.Errorf("decoded %+v", cfg)
	}
	if err := msg.Decode("missing", &cfg); err == nil {
		t.Error("expected error for missing field")
	}
}
