// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of clean architecture — it depends on nothing.
package domain

import (
	"fmt"
	"time"
)

// ─── Work Item Types ────────────────────────────────────────────────────────

// Status is the lifecycle state of a WorkItem.
type Status string

const (
	StatusIdea       Status = "idea"
	StatusQueued     Status = "queued"
	StatusGenerating Status = "generating"
	StatusPublishing Status = "publishing"
	StatusPublished  Status = "published"
	StatusFailed     Status = "failed"
)

// transitions is the guarded state-transition table. Anything not listed
// here is illegal and rejected by Transition.
var transitions = map[Status][]Status{
	StatusIdea:       {StatusQueued, StatusGenerating},
	StatusQueued:     {StatusGenerating},
	StatusGenerating: {StatusPublishing, StatusFailed, StatusQueued, StatusIdea},
	StatusPublishing: {StatusPublished, StatusFailed, StatusQueued, StatusIdea},
	StatusPublished:  {StatusQueued},
	StatusFailed:     {StatusQueued},
}

// CanTransition reports whether from → to is a legal status transition.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates and returns the new status, or ErrIllegalTransition.
func Transition(from, to Status) (Status, error) {
	if !CanTransition(from, to) {
		return from, fmt.Errorf("%w: %s → %s", ErrIllegalTransition, from, to)
	}
	return to, nil
}

// Claimable reports whether a work item in this status may be claimed for
// an execution attempt. Only idle statuses are claimable; a failed claim
// means another tick got there first.
func (s Status) Claimable() bool {
	return s == StatusIdea || s == StatusQueued
}

// Terminal reports whether the status ends this cycle's pipeline.
func (s Status) Terminal() bool {
	return s == StatusPublished || s == StatusFailed
}

// Frequency is the recurrence cadence of a WorkItem.
type Frequency string

const (
	FreqDaily    Frequency = "daily"
	FreqWeekly   Frequency = "weekly"
	FreqBiweekly Frequency = "biweekly"
	FreqMonthly  Frequency = "monthly"
)

// Next returns the next run time after now for this frequency.
// Monthly uses calendar months, so the 31st clamps per time.AddDate rules.
func (f Frequency) Next(now time.Time) time.Time {
	switch f {
	case FreqWeekly:
		return now.AddDate(0, 0, 7)
	case FreqBiweekly:
		return now.AddDate(0, 0, 14)
	case FreqMonthly:
		return now.AddDate(0, 1, 0)
	default:
		return now.AddDate(0, 0, 1)
	}
}

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FreqDaily, FreqWeekly, FreqBiweekly, FreqMonthly:
		return true
	}
	return false
}

// WorkItem is one schedulable unit of content production.
// Created by an external planning step; mutated only by the orchestrator
// and the publishing pipeline; never deleted by this engine.
type WorkItem struct {
	ID                string     `json:"id"`
	OwnerID           string     `json:"owner_id"`
	Topic             string     `json:"topic"`
	Payload           string     `json:"payload,omitempty"` // Generation parameters, opaque JSON
	RecurrenceEnabled bool       `json:"recurrence_enabled"`
	Frequency         Frequency  `json:"frequency"`
	NextRunAt         *time.Time `json:"next_run_at,omitempty"`
	Status            Status     `json:"status"`
	RetryCount        int        `json:"retry_count"`
	LastError         string     `json:"last_error,omitempty"`
	Artifact          *Artifact  `json:"artifact,omitempty"`
	RemoteID          string     `json:"remote_id,omitempty"`
	RemoteURL         string     `json:"remote_url,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Artifact is the generated content carried between the generation and
// publishing phases. It is persisted before publishing starts so a crash
// between phases resumes here instead of re-invoking (and re-billing)
// generation.
type Artifact struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	ImageURL string `json:"image_url,omitempty"`
}

// PublishResult identifies the published content at the destination.
type PublishResult struct {
	RemoteID  string `json:"remote_id"`
	RemoteURL string `json:"remote_url"`
}

// ─── Execution Record Types ─────────────────────────────────────────────────

// Outcome is the result of one orchestrator attempt for a work item.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// Job ties one tick's execution attempt to a WorkItem. It is ephemeral —
// created and completed within a single orchestrator run.
type Job struct {
	WorkItemID  string     `json:"work_item_id"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Outcome     Outcome    `json:"outcome"`
	Error       string     `json:"error,omitempty"`
}

// TickError surfaces one work item's failure inside a tick summary.
type TickError struct {
	WorkItemID string `json:"work_item_id"`
	Message    string `json:"message"`
}

// TickSummary is the wire contract of the trigger endpoint. Operational
// dashboards poll it, so the shape must stay stable.
type TickSummary struct {
	Processed int         `json:"processed"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Skipped   int         `json:"skipped"`
	Errors    []TickError `json:"errors"`
}

// Record folds one job outcome into the summary.
func (s *TickSummary) Record(job Job) {
	s.Processed++
	switch job.Outcome {
	case OutcomeSucceeded:
		s.Succeeded++
	case OutcomeFailed:
		s.Failed++
		s.Errors = append(s.Errors, TickError{WorkItemID: job.WorkItemID, Message: job.Error})
	case OutcomeSkipped:
		s.Skipped++
	}
}

// Merge folds another summary into s, preserving error order.
func (s *TickSummary) Merge(other TickSummary) {
	s.Processed += other.Processed
	s.Succeeded += other.Succeeded
	s.Failed += other.Failed
	s.Skipped += other.Skipped
	s.Errors = append(s.Errors, other.Errors...)
}

// ─── Scheduled Post Types ───────────────────────────────────────────────────

// PostStatus is the lifecycle of an already-generated scheduled post.
// Posts skip the generation phase entirely: scheduled → published|failed.
type PostStatus string

const (
	PostScheduled  PostStatus = "scheduled"
	PostPublishing PostStatus = "publishing"
	PostPublished  PostStatus = "published"
	PostFailed     PostStatus = "failed"
)

// ScheduledPost is pre-generated content gated purely on a publish time.
type ScheduledPost struct {
	ID           string     `json:"id"`
	OwnerID      string     `json:"owner_id"`
	Artifact     Artifact   `json:"artifact"`
	ScheduledFor time.Time  `json:"scheduled_for"`
	Status       PostStatus `json:"status"`
	RetryCount   int        `json:"retry_count"`
	LastError    string     `json:"last_error,omitempty"`
	RemoteID     string     `json:"remote_id,omitempty"`
	RemoteURL    string     `json:"remote_url,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
