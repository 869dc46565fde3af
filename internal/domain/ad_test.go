package domain

import (
	"errors"
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestAdPauseKeepsEndDate(t *testing.T) {
	ad := Ad{ID: "ad-1", Status: AdApproved}
	if err := ad.Activate(date(2026, 11, 2), date(2026, 11, 2)); err != nil {
		t.Fatalf("activate: %v", err)
	}
	end := ad.EndDate
	if err := ad.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !ad.EndDate.Equal(end) {
		t.Fatalf("pause changed end date: %s -> %s", end, ad.EndDate)
	}
	if err := ad.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if ad.Status != AdActive || !ad.EndDate.Equal(end) {
		t.Fatalf("unexpected ad after resume: %+v", ad)
	}
}

func TestAdTransitions(t *testing.T) {
	cases := []struct {
		name   string
		from   AdStatus
		paid   bool
		action func(*Ad) error
		want   AdStatus
		ok     bool
	}{
		{name: "approve review", from: AdPendingReview, action: (*Ad).Approve, want: AdApproved, ok: true},
		{name: "approve paid review", from: AdPendingReview, paid: true, action: (*Ad).Approve, want: AdActive, ok: true},
		{name: "reject review", from: AdPendingReview, action: (*Ad).Reject, want: AdRejected, ok: true},
		{name: "reject approved", from: AdApproved, action: (*Ad).Reject, want: AdApproved},
		{name: "pause approved", from: AdApproved, action: (*Ad).Pause, want: AdApproved},
		{name: "resume active", from: AdActive, action: (*Ad).Resume, want: AdActive},
		{name: "approve rejected", from: AdRejected, action: (*Ad).Approve, want: AdRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ad := Ad{Status: tc.from, Paid: tc.paid}
			err := tc.action(&ad)
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected invalid transition, got %v", err)
			}
			if ad.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, ad.Status)
			}
		})
	}
}

func TestAdActivateInReviewWaitsForApproval(t *testing.T) {
	ad := Ad{Status: AdPendingReview}
	if err := ad.Activate(date(2026, 11, 1), date(2026, 11, 8)); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if ad.Status != AdPendingReview || !ad.Paid {
		t.Fatalf("expected paid ad in review, got %+v", ad)
	}
	if err := ad.Approve(); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if ad.Status != AdActive {
		t.Fatalf("expected active after approval, got %s", ad.Status)
	}
}

func TestAdActivateIsRepeatable(t *testing.T) {
	ad := Ad{Status: AdApproved}
	start, end := date(2026, 11, 3), date(2026, 11, 3)
	if err := ad.Activate(start, end); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := ad.Activate(start, end); err != nil {
		t.Fatalf("second activate: %v", err)
	}
	if err := ad.Activate(start, end.AddDate(0, 0, 1)); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition for a different window, got %v", err)
	}
}

func TestAdRunsOn(t *testing.T) {
	ad := Ad{Status: AdActive, StartDate: date(2026, 11, 1), EndDate: date(2026, 11, 8)}
	if !ad.RunsOn(time.Date(2026, 11, 8, 23, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected ad to run on its last day")
	}
	if ad.RunsOn(date(2026, 11, 9)) {
		t.Fatalf("ad must not run after its window")
	}
	ad.Status = AdPaused
	if ad.RunsOn(date(2026, 11, 2)) {
		t.Fatalf("paused ad must not run")
	}
}
