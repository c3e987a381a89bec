// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package store persists scheduler state.
//
// Writes go through Update, which applies a group of record writes
// atomically. Data objects are immutable and keyed by their content hash:
// creating an object whose content already exists returns the existing
// record.
package store

import (
	"context"
	"errors"
	"time"

	"loom/internal/data"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// RunRecord is the persisted form of a run.
type RunRecord struct {
	ID              string     `json:"id" yaml:"id"`
	ParentID        string     `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Name            string     `json:"name" yaml:"name"`
	Status          string     `json:"status" yaml:"status"`
	Reason          string     `json:"reason,omitempty" yaml:"reason,omitempty"`
	FailedTaskID    string     `json:"failed_task_id,omitempty" yaml:"failed_task_id,omitempty"`
	FailedAttemptID string     `json:"failed_attempt_id,omitempty" yaml:"failed_attempt_id,omitempty"`
	FailureKind     string     `json:"failure_kind,omitempty" yaml:"failure_kind,omitempty"`
	ChildIDs        []string   `json:"child_ids,omitempty" yaml:"child_ids,omitempty"`
	TaskIDs         []string   `json:"task_ids,omitempty" yaml:"task_ids,omitempty"`
	CreatedAt       time.Time  `json:"created_at" yaml:"created_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// TaskRecord is the persisted form of a task.
type TaskRecord struct {
	ID              string            `json:"id" yaml:"id"`
	RunID           string            `json:"run_id" yaml:"run_id"`
	DataPath        string            `json:"data_path" yaml:"data_path"`
	Status          string            `json:"status" yaml:"status"`
	Command         string            `json:"command" yaml:"command"`
	Env             map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Fingerprint     string            `json:"fingerprint" yaml:"fingerprint"`
	ActiveAttemptID string            `json:"active_attempt_id,omitempty" yaml:"active_attempt_id,omitempty"`
	// AttemptIDs lists every attempt the task has used, oldest first
	AttemptIDs []string `json:"attempt_ids,omitempty" yaml:"attempt_ids,omitempty"`
	// Inputs maps an input alias to the ids of its data objects
	Inputs map[string][]string `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	// Outputs maps an output channel to the ids of the objects produced on it
	Outputs map[string][]string `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// AttemptRecord is the persisted form of a task attempt.
type AttemptRecord struct {
	ID          string              `json:"id" yaml:"id"`
	Fingerprint string              `json:"fingerprint" yaml:"fingerprint"`
	Status      string              `json:"status" yaml:"status"`
	FailureKind string              `json:"failure_kind,omitempty" yaml:"failure_kind,omitempty"`
	Detail      string              `json:"detail,omitempty" yaml:"detail,omitempty"`
	Command     string              `json:"command" yaml:"command"`
	Outputs     map[string][]string `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	// LogFiles maps a log name to where it is kept
	LogFiles      map[string]string `json:"log_files,omitempty" yaml:"log_files,omitempty"`
	CreatedAt     time.Time         `json:"created_at" yaml:"created_at"`
	LastHeartbeat *time.Time        `json:"last_heartbeat,omitempty" yaml:"last_heartbeat,omitempty"`
}

// ObjectRecord is an immutable data object.
type ObjectRecord struct {
	ID     string      `json:"id" yaml:"id"`
	Type   data.Type   `json:"type" yaml:"type"`
	Object data.Object `json:"-" yaml:"-"`
}

// Tx is the write side of one transaction.
type Tx interface {
	PutRun(r RunRecord) error
	PutTask(t TaskRecord) error
	PutAttempt(a AttemptRecord) error
	// CreateObject stores obj under its content hash and returns the id.
	// created is false when an identical object was already stored.
	CreateObject(obj data.Object) (id string, created bool, err error)
}

// Store runs transactions. If fn returns an error nothing it wrote is kept.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
}
