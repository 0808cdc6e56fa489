package grading

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/michaelbrown/kata/internal/protocol"
)

type stubGrader struct {
	result *Result
	url    string
	err    error
}

func (s stubGrader) SubmitExercise(ctx context.Context, sub Submission) (*Result, error) {
	return s.result, s.err
}

func (s stubGrader) SubmitToPaste(ctx context.Context, sub Submission) (string, error) {
	return s.url, s.err
}

// natsConn connects to a local NATS server, skipping when none is running.
func natsConn(t *testing.T) *nats.Conn {
	t.Helper()
	nc, err := nats.Connect(nats.DefaultURL, nats.Timeout(500*time.Millisecond))
	if err != nil {
		t.Skipf("no NATS server at %s: %v", nats.DefaultURL, err)
	}
	t.Cleanup(nc.Close)
	return nc
}

func TestNATSRoundTrip(t *testing.T) {
	nc := natsConn(t)

	stub := stubGrader{
		result: NewResult([]protocol.TestCaseResult{{ID: "1", TestName: "adds", Passed: true}}),
		url:    "http://kata.test/api/pastes/1",
	}
	subs, err := ServeNATS(nc, stub, time.Second, nil)
	if err != nil {
		t.Fatalf("ServeNATS: %v", err)
	}
	t.Cleanup(func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	})

	g := NewNATSGrader(nc, 2*time.Second)
	res, err := g.SubmitExercise(context.Background(), Submission{Exercise: "sum"})
	if err != nil {
		t.Fatalf("SubmitExercise: %v", err)
	}
	if !res.AllPassed {
		t.Errorf("result = %+v", res)
	}

	url, err := g.SubmitToPaste(context.Background(), Submission{Exercise: "sum"})
	if err != nil {
		t.Fatalf("SubmitToPaste: %v", err)
	}
	if url != stub.url {
		t.Errorf("url = %q, want %q", url, stub.url)
	}
}

func TestNATSGraderError(t *testing.T) {
	nc := natsConn(t)

	subs, err := ServeNATS(nc, stubGrader{err: errors.New("exercise has no tests")}, time.Second, nil)
	if err != nil {
		t.Fatalf("ServeNATS: %v", err)
	}
	t.Cleanup(func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	})

	_, err = NewNATSGrader(nc, 2*time.Second).SubmitExercise(context.Background(), Submission{})
	if err == nil || err.Error() != "exercise has no tests" {
		t.Errorf("err = %v, want the grader's error", err)
	}
}
