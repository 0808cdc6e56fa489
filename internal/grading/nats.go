package grading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Subjects answered by ServeNATS.
const (
	SubjectSubmit = "kata.grade.submit"
	SubjectPaste  = "kata.grade.paste"

	queueGroup = "kata-graders"
)

// natsReply is the body of every grading reply.
type natsReply struct {
	Result *Result `json:"result,omitempty"`
	URL    string  `json:"url,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// NATSGrader grades by request/reply over NATS.
type NATSGrader struct {
	nc      *nats.Conn
	timeout time.Duration
}

// NewNATSGrader creates a grader using nc. timeout bounds each request when
// the caller's context has no deadline.
func NewNATSGrader(nc *nats.Conn, timeout time.Duration) *NATSGrader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &NATSGrader{nc: nc, timeout: timeout}
}

func (g *NATSGrader) SubmitExercise(ctx context.Context, sub Submission) (*Result, error) {
	reply, err := g.request(ctx, SubjectSubmit, sub)
	if err != nil {
		return nil, err
	}
	if reply.Result == nil {
		return nil, fmt.Errorf("grader reply has no result")
	}
	return reply.Result, nil
}

func (g *NATSGrader) SubmitToPaste(ctx context.Context, sub Submission) (string, error) {
	reply, err := g.request(ctx, SubjectPaste, sub)
	if err != nil {
		return "", err
	}
	return reply.URL, nil
}

func (g *NATSGrader) request(ctx context.Context, subject string, sub Submission) (*natsReply, error) {
	data, err := json.Marshal(sub)
	if err != nil {
		return nil, fmt.Errorf("encoding submission: %w", err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	msg, err := g.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", subject, err)
	}

	var reply natsReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, fmt.Errorf("decoding reply: %w", err)
	}
	if reply.Error != "" {
		return nil, errors.New(reply.Error)
	}
	return &reply, nil
}

// ServeNATS answers grading requests on nc with g until the returned
// subscriptions are drained or nc closes.
func ServeNATS(nc *nats.Conn, g Grader, timeout time.Duration, logger *zap.Logger) ([]*nats.Subscription, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	handle := func(fn func(ctx context.Context, sub Submission) natsReply) nats.MsgHandler {
		return func(msg *nats.Msg) {
			var sub Submission
			var reply natsReply
			if err := json.Unmarshal(msg.Data, &sub); err != nil {
				reply.Error = fmt.Sprintf("invalid submission: %v", err)
			} else {
				ctx, cancel := context.WithTimeout(context.Background(), timeout)
				reply = fn(ctx, sub)
				cancel()
			}

			data, err := json.Marshal(reply)
			if err != nil {
				logger.Error("encoding grading reply", zap.Error(err))
				return
			}
			if err := msg.Respond(data); err != nil {
				logger.Warn("responding to grading request",
					zap.String("subject", msg.Subject), zap.Error(err))
			}
		}
	}

	submit := handle(func(ctx context.Context, sub Submission) natsReply {
		res, err := g.SubmitExercise(ctx, sub)
		if err != nil {
			logger.Warn("grading failed", zap.String("exercise", sub.Exercise), zap.Error(err))
			return natsReply{Error: err.Error()}
		}
		return natsReply{Result: res}
	})
	paste := handle(func(ctx context.Context, sub Submission) natsReply {
		url, err := g.SubmitToPaste(ctx, sub)
		if err != nil {
			return natsReply{Error: err.Error()}
		}
		return natsReply{URL: url}
	})

	var subs []*nats.Subscription
	for subject, h := range map[string]nats.MsgHandler{SubjectSubmit: submit, SubjectPaste: paste} {
		s, err := nc.QueueSubscribe(subject, queueGroup, h)
		if err != nil {
			for _, prev := range subs {
				prev.Unsubscribe()
			}
			return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
		}
		subs = append(subs, s)
	}
	logger.Info("grading over nats", zap.Strings("subjects", []string{SubjectSubmit, SubjectPaste}))
	return subs, nil
}
