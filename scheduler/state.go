/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package scheduler

import (
	"fmt"
	"sync"

	"github.com/PivotLLM/Planwright/global"
)

// states tracks the lifecycle of every node in one run. It is safe for
// concurrent use by the nodes of one batch.
type states struct {
	mu     sync.Mutex
	status map[int]global.NodeStatus
}

func newStates() *states {
	return &states{status: make(map[int]global.NodeStatus)}
}

// resume derives the starting state from a persisted status. A node that was
// running when a previous process died starts over.
func resume(persisted global.NodeStatus) global.NodeStatus {
	switch persisted {
	case global.StatusCompleted, global.StatusFailed, global.StatusSkipped:
		return persisted
	default:
		return global.StatusPending
	}
}

func (s *states) set(id int, status global.NodeStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[id] = status
}

func (s *states) get(id int) global.NodeStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status[id]
}

// transition moves id from one state to another. from is the expected
// current state so that a lost update shows up as an error.
func (s *states) transition(id int, from, to global.NodeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.status[id]
	if !ok {
		return fmt.Errorf("unknown node %d", id)
	}
	if cur != from {
		return fmt.Errorf("invalid transition for node %d: expected %s, got %s", id, from, cur)
	}
	if !allowed(from, to) {
		return fmt.Errorf("disallowed transition for node %d: %s -> %s", id, from, to)
	}
	s.status[id] = to
	return nil
}

func allowed(from, to global.NodeStatus) bool {
	switch from {
	case global.StatusPending:
		return to == global.StatusRunning || to == global.StatusSkipped
	case global.StatusRunning:
		return to == global.StatusCompleted || to == global.StatusFailed
	default:
		return false
	}
}
