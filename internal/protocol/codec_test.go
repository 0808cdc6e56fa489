package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
)

func TestEncodeTypeFirst(t *testing.T) {
	tests := []struct {
		msg  Message
		want string
	}{
		{Stop{}, `{"type":"stop"}`},
		{Run{Code: "x"}, `{"type":"run","code":"x"}`},
		{Input{Value: "42"}, `{"type":"input","value":"42"}`},
		{PrintDone{}, `{"type":"print_done"}`},
		{Error{Message: "boom"}, `{"type":"error","message":"boom"}`},
	}

	for _, tt := range tests {
		got, err := Encode(tt.msg)
		if err != nil {
			t.Fatalf("Encode(%T): %v", tt.msg, err)
		}
		if string(got) != tt.want {
			t.Errorf("Encode(%T) = %s, want %s", tt.msg, got, tt.want)
		}
	}
}

func TestDecodeHost(t *testing.T) {
	msg, err := DecodeHost([]byte(`{"type":"input","value":" spaced "}`))
	if err != nil {
		t.Fatalf("DecodeHost: %v", err)
	}
	in, ok := msg.(Input)
	if !ok {
		t.Fatalf("got %T, want Input", msg)
	}
	if in.Value != " spaced " {
		t.Errorf("value = %q, want %q", in.Value, " spaced ")
	}
}

func TestDecodeSandboxBatchOrder(t *testing.T) {
	msg, err := DecodeSandbox([]byte(`{"type":"print_batch","items":["a\n","b","c\n"]}`))
	if err != nil {
		t.Fatalf("DecodeSandbox: %v", err)
	}
	batch := msg.(PrintBatch)
	want := []string{"a\n", "b", "c\n"}
	if len(batch.Items) != len(want) {
		t.Fatalf("got %d items, want %d", len(batch.Items), len(want))
	}
	for i := range want {
		if batch.Items[i] != want[i] {
			t.Errorf("item[%d] = %q, want %q", i, batch.Items[i], want[i])
		}
	}
}

func TestDecodeUnknownTypeIsError(t *testing.T) {
	tests := []struct {
		name   string
		decode func([]byte) error
		line   string
	}{
		{"host unknown", func(b []byte) error { _, err := DecodeHost(b); return err }, `{"type":"explode"}`},
		{"host gets sandbox type", func(b []byte) error { _, err := DecodeHost(b); return err }, `{"type":"print","text":"x"}`},
		{"sandbox gets host type", func(b []byte) error { _, err := DecodeSandbox(b); return err }, `{"type":"run","code":""}`},
		{"sandbox missing type", func(b []byte) error { _, err := DecodeSandbox(b); return err }, `{"text":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.decode([]byte(tt.line))
			if !errors.Is(err, ErrUnknownType) {
				t.Errorf("err = %v, want ErrUnknownType", err)
			}
		})
	}
}

func TestDecodeTestResults(t *testing.T) {
	line := `{"type":"test_results","results":[{"id":"1","testName":"adds","passed":false,"feedback":"off by one","points":["1.1"]}]}`
	msg, err := DecodeSandbox([]byte(line))
	if err != nil {
		t.Fatalf("DecodeSandbox: %v", err)
	}
	res := msg.(TestResults).Results
	if len(res) != 1 {
		t.Fatalf("got %d results, want 1", len(res))
	}
	if res[0].TestName != "adds" || res[0].Passed || res[0].Feedback != "off by one" {
		t.Errorf("unexpected result: %+v", res[0])
	}
	if len(res[0].Points) != 1 || res[0].Points[0] != "1.1" {
		t.Errorf("points = %v, want [1.1]", res[0].Points)
	}
}

func TestReaderStream(t *testing.T) {
	stream := `{"type":"ready"}
{"type":"print","text":"hi\n"}
{"type":"bogus"}
{"type":"print_done"}
`
	r := NewReader(strings.NewReader(stream))

	want := []MessageType{TypeReady, TypePrint}
	for _, w := range want {
		msg, err := r.ReadSandbox()
		if err != nil {
			t.Fatalf("ReadSandbox: %v", err)
		}
		if msg.Type() != w {
			t.Errorf("type = %s, want %s", msg.Type(), w)
		}
	}

	if _, err := r.ReadSandbox(); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("err = %v, want ErrUnknownType", err)
	}

	// The stream stays usable after a rejected line.
	msg, err := r.ReadSandbox()
	if err != nil {
		t.Fatalf("ReadSandbox after unknown: %v", err)
	}
	if msg.Type() != TypePrintDone {
		t.Errorf("type = %s, want print_done", msg.Type())
	}

	if _, err := r.ReadSandbox(); err != io.EOF {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

// slowWriter blocks every write until released.
type slowWriter struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	release chan struct{}
}

func (w *slowWriter) Write(p []byte) (int, error) {
	<-w.release
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func TestSenderQueuesWhileTransportBlocked(t *testing.T) {
	w := &slowWriter{release: make(chan struct{})}
	s := NewSender(w)

	// None of these may block even though the writer is stuck.
	for i := 0; i < 100; i++ {
		if err := s.Send(Print{Text: "x"}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if err := s.Send(PrintDone{}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	close(w.release)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r := NewReader(&w.buf)
	for i := 0; i < 100; i++ {
		msg, err := r.ReadSandbox()
		if err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
		if msg.Type() != TypePrint {
			t.Fatalf("message %d type = %s, want print", i, msg.Type())
		}
	}
	msg, err := r.ReadSandbox()
	if err != nil {
		t.Fatalf("last message: %v", err)
	}
	if msg.Type() != TypePrintDone {
		t.Errorf("last type = %s, want print_done", msg.Type())
	}
}

func TestSenderClosed(t *testing.T) {
	s := NewSender(io.Discard)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Send(Stop{}); !errors.Is(err, ErrSenderClosed) {
		t.Errorf("err = %v, want ErrSenderClosed", err)
	}
}
