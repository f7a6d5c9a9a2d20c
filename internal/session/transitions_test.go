package session

import (
	"errors"
	"reflect"
	"testing"
)

func TestCanTransitionParse(t *testing.T) {
	tests := []struct {
		from, to ParseStatus
		want     bool
	}{
		{ParseAwaiting, ParseParsing, true},
		{ParseParsing, ParseParsed, true},
		{ParseParsing, ParseFailed, true},
		{ParseParsing, ParseParsing, true},
		{ParseFailed, ParseParsing, true},
		{ParseAwaiting, ParseParsed, false},
		{ParseParsed, ParseParsing, false},
		{ParseParsed, ParseFailed, false},
	}
	for _, tt := range tests {
		if got := CanTransitionParse(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransitionParse(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCanTransitionSecondPass(t *testing.T) {
	tests := []struct {
		from, to SecondPassStatus
		want     bool
	}{
		{SecondPassNone, SecondPassQueued, true},
		{SecondPassFailed, SecondPassQueued, true},
		{SecondPassQueued, SecondPassQueued, true},
		{SecondPassQueued, SecondPassRunning, true},
		{SecondPassRunning, SecondPassVerified, true},
		{SecondPassRunning, SecondPassFailed, true},
		{SecondPassRunning, SecondPassQueued, false},
		{SecondPassVerified, SecondPassQueued, false},
		{SecondPassNone, SecondPassRunning, false},
	}
	for _, tt := range tests {
		if got := CanTransitionSecondPass(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransitionSecondPass(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCanTransitionReview(t *testing.T) {
	if !CanTransitionReview(ReviewPending, ReviewApproved) {
		t.Error("pending -> approved should be allowed")
	}
	if !CanTransitionReview(ReviewApproved, ReviewApproved) {
		t.Error("approved -> approved should be allowed")
	}
	if CanTransitionReview(ReviewApproved, ReviewRejected) {
		t.Error("approved -> rejected should not be allowed")
	}
	if CanTransitionReview(ReviewApproved, ReviewPending) {
		t.Error("approved -> pending should not be allowed")
	}
}

func TestSecondPassSources(t *testing.T) {
	got := SecondPassSources(SecondPassQueued)
	want := []SecondPassStatus{SecondPassNone, SecondPassFailed, SecondPassQueued}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SecondPassSources(QUEUED) = %q, want %q", got, want)
	}
}

func TestCheckErrors(t *testing.T) {
	err := CheckSecondPass(SecondPassNone, SecondPassVerified)
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransitionError, got %v", err)
	}
	if err.Error() != "invalid secondPassStatus transition null -> VERIFIED" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if CheckParse(ParseAwaiting, ParseParsing) != nil {
		t.Error("expected nil for allowed transition")
	}
}

func TestParseStatusStrings(t *testing.T) {
	if _, err := ParseParseStatus("PARSED"); err != nil {
		t.Error(err)
	}
	if _, err := ParseParseStatus("parsed"); err == nil {
		t.Error("expected error for lowercase status")
	}
	if s, err := ParseSecondPassStatus(""); err != nil || s != SecondPassNone {
		t.Errorf("got %q, %v", s, err)
	}
	if _, err := ParseReviewStatus("DONE"); err == nil {
		t.Error("expected error for unknown review status")
	}
}
