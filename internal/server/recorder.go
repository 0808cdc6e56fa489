package server

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/michaelbrown/kata/internal/exercise"
	"github.com/michaelbrown/kata/internal/storage"
)

// storeRecorder persists a session's code, output and submissions.
type storeRecorder struct {
	store     storage.Store
	sessionID string
	logger    *zap.Logger
}

func (r *storeRecorder) Record(ctx context.Context, rec exercise.Record) error {
	if err := r.store.SaveTranscript(ctx, r.sessionID, toEntries(rec.Output)); err != nil {
		return err
	}

	sess, err := r.store.GetSession(ctx, r.sessionID)
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}
	sess.Code = rec.Code
	if rec.Submission != nil {
		sess.Status = storage.StatusFailed
		if rec.Submission.AllPassed {
			sess.Status = storage.StatusCompleted
		}
		sub := &storage.Submission{
			SessionID: r.sessionID,
			Exercise:  sess.Exercise,
			Passed:    rec.Submission.AllPassed,
			Results:   rec.Submission.Results,
		}
		if err := r.store.SaveSubmission(ctx, sub); err != nil {
			return err
		}
	}
	if err := r.store.UpdateSession(ctx, sess); err != nil {
		return err
	}

	r.logger.Debug("recorded activity",
		zap.String("mode", string(rec.Mode)),
		zap.Stringer("state", rec.State),
		zap.Int("entries", len(rec.Output)))
	return nil
}

func toEntries(output []exercise.OutputEntry) []storage.Entry {
	entries := make([]storage.Entry, 0, len(output))
	for _, e := range output {
		entries = append(entries, storage.Entry{
			ID:        e.ID,
			Kind:      string(e.Kind),
			Text:      e.Text,
			Traceback: e.Traceback,
		})
	}
	return entries
}
