// Package grading submits a learner's files for marking and shares them as
// pastes.
package grading

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/michaelbrown/kata/internal/protocol"
)

var (
	// ErrUnknownExercise is returned for a submission naming no known exercise.
	ErrUnknownExercise = errors.New("unknown exercise")
	// ErrNoTests is returned when the exercise has nothing to grade against.
	ErrNoTests = errors.New("exercise has no tests")
)

// Submission is the file set sent for grading.
type Submission struct {
	Exercise string            `json:"exercise"`
	Files    map[string]string `json:"files"`
}

// Result is the outcome of a graded submission.
type Result struct {
	Results   []protocol.TestCaseResult `json:"results"`
	AllPassed bool                      `json:"all_passed"`
}

// NewResult wraps results. A submission passes only when there is at least
// one case and every case passed.
func NewResult(results []protocol.TestCaseResult) *Result {
	all := len(results) > 0
	for _, r := range results {
		if !r.Passed {
			all = false
			break
		}
	}
	return &Result{Results: results, AllPassed: all}
}

// Grader grades submissions and stores pastes.
type Grader interface {
	SubmitExercise(ctx context.Context, sub Submission) (*Result, error)
	SubmitToPaste(ctx context.Context, sub Submission) (string, error)
}

// PlaceholderTestName names the case reported when a submission never
// reached the grader.
const PlaceholderTestName = "Submission"

// PlaceholderResult is the single failing case shown when submitting failed,
// so the results view always has something to render.
func PlaceholderResult(err error) *Result {
	return &Result{
		Results: []protocol.TestCaseResult{failure(PlaceholderTestName,
			fmt.Sprintf("Your submission could not be graded: %v. Please try again.", err))},
	}
}

func failure(name, feedback string) protocol.TestCaseResult {
	return protocol.TestCaseResult{
		ID:       uuid.NewString(),
		TestName: name,
		Passed:   false,
		Feedback: feedback,
	}
}
