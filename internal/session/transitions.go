package session

import (
	"fmt"
	"slices"
)

// TransitionError reports a status change the table does not allow.
type TransitionError struct {
	Field string
	From  string
	To    string
}

func (e *TransitionError) Error() string {
	from := e.From
	if from == "" {
		from = "null"
	}
	return fmt.Sprintf("invalid %s transition %s -> %s", e.Field, from, e.To)
}

var parseTransitions = map[ParseStatus][]ParseStatus{
	ParseAwaiting: {ParseParsing},
	// PARSING -> PARSING is a retried attempt picking the job back up.
	ParseParsing: {ParseParsing, ParseParsed, ParseFailed},
	ParseFailed:  {ParseParsing},
}

var secondPassTransitions = map[SecondPassStatus][]SecondPassStatus{
	SecondPassNone: {SecondPassQueued},
	// QUEUED -> QUEUED re-enqueues when the recorded job is terminal.
	SecondPassQueued:  {SecondPassQueued, SecondPassRunning, SecondPassFailed},
	SecondPassRunning: {SecondPassRunning, SecondPassVerified, SecondPassFailed},
	SecondPassFailed:  {SecondPassQueued},
}

var reviewTransitions = map[ReviewStatus][]ReviewStatus{
	ReviewPending:  {ReviewApproved, ReviewRejected},
	ReviewApproved: {ReviewApproved},
	ReviewRejected: {ReviewPending, ReviewRejected},
}

// SecondPassEnqueueable lists the statuses a new second-pass job may be
// enqueued from. QUEUED additionally requires the recorded job to be terminal.
var SecondPassEnqueueable = []SecondPassStatus{SecondPassNone, SecondPassQueued, SecondPassFailed}

// CanTransitionParse reports whether from -> to is allowed.
func CanTransitionParse(from, to ParseStatus) bool {
	return contains(parseTransitions[from], to)
}

// CanTransitionSecondPass reports whether from -> to is allowed.
func CanTransitionSecondPass(from, to SecondPassStatus) bool {
	return contains(secondPassTransitions[from], to)
}

// CanTransitionReview reports whether from -> to is allowed.
func CanTransitionReview(from, to ReviewStatus) bool {
	return contains(reviewTransitions[from], to)
}

// ParseSources returns every status that may move to to.
func ParseSources(to ParseStatus) []ParseStatus { return sources(parseTransitions, to) }

// SecondPassSources returns every status that may move to to.
func SecondPassSources(to SecondPassStatus) []SecondPassStatus {
	return sources(secondPassTransitions, to)
}

// ReviewSources returns every status that may move to to.
func ReviewSources(to ReviewStatus) []ReviewStatus { return sources(reviewTransitions, to) }

// CheckParse returns a *TransitionError if from -> to is not allowed.
func CheckParse(from, to ParseStatus) error {
	if !CanTransitionParse(from, to) {
		return &TransitionError{Field: "parseStatus", From: string(from), To: string(to)}
	}
	return nil
}

// CheckSecondPass returns a *TransitionError if from -> to is not allowed.
func CheckSecondPass(from, to SecondPassStatus) error {
	if !CanTransitionSecondPass(from, to) {
		return &TransitionError{Field: "secondPassStatus", From: string(from), To: string(to)}
	}
	return nil
}

// CheckReview returns a *TransitionError if from -> to is not allowed.
func CheckReview(from, to ReviewStatus) error {
	if !CanTransitionReview(from, to) {
		return &TransitionError{Field: "reviewStatus", From: string(from), To: string(to)}
	}
	return nil
}

func contains[T comparable](list []T, v T) bool {
	return slices.Contains(list, v)
}

// sources walks the table in a fixed order so SQL built from it is stable.
func sources[T ~string](table map[T][]T, to T) []T {
	var keys []T
	for k := range table {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	var out []T
	for _, from := range keys {
		if contains(table[from], to) {
			out = append(out, from)
		}
	}
	return out
}
