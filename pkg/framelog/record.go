// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package framelog

import (
	"time"

	"github.com/Thermoquad/carinspector/pkg/frame"
	"github.com/google/uuid"
)

// Session is the header record written when a log file is opened
type Session struct {
	ID    uuid.UUID
	Start time.Time
	Node  string
}

// NewSession creates a session header with a fresh identifier
func NewSession(node string) Session {
	return Session{
		ID:    uuid.New(),
		Start: time.Now(),
		Node:  node,
	}
}

// Record is one decoded log record. Exactly one of Session and Frame is
// set, according to Type. A decoded Frame is owned by the caller.
type Record struct {
	Type    RecordType
	Session *Session
	Frame   *frame.Frame
}

// Release releases the record's frame, if any
func (r *Record) Release() {
	if r.Frame != nil {
		_ = r.Frame.Release()
	}
}
