package model

import "time"

// RunStatus is the lifecycle state of a sync run.
type RunStatus string

const (
	RunInProgress RunStatus = "in_progress"
	RunSuccess    RunStatus = "success"
	RunFailed     RunStatus = "failed"
)

// SyncRun records one invocation of the sync controller for a company.
// Created with status in_progress and mutated exactly once at run end.
// The most recent success run's LastNSU is the resume cursor for the next run;
// in_progress and failed runs never move the resume point.
type SyncRun struct {
	ID              string     `json:"id"`
	CompanyID       string     `json:"company_id"`
	LastNSU         int64      `json:"last_nsu"`
	Status          RunStatus  `json:"status"`
	DocumentsSynced int        `json:"documents_synced"`
	Details         string     `json:"details,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}
