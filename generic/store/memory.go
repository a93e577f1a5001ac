// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/credit-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	instructions map[generic.AccountID][]generic.Instruction
	idempotency  map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		instructions: make(map[generic.AccountID][]generic.Instruction),
		idempotency:  make(map[string]bool),
	}
}

// AppendBatch adds all instructions of the batch atomically.
func (m *Memory) AppendBatch(_ context.Context, batch generic.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(batch)
}

func (m *Memory) appendLocked(batch generic.Batch) error {
	if batch.IdempotencyKey != "" && m.idempotency[batch.IdempotencyKey] {
		return generic.ErrDuplicateIdempotencyKey
	}
	for _, ins := range batch.Instructions {
		m.insertLocked(ins.Debit.AccountID, ins)
		if ins.Credit.AccountID != ins.Debit.AccountID {
			m.insertLocked(ins.Credit.AccountID, ins)
		}
	}
	if batch.IdempotencyKey != "" {
		m.idempotency[batch.IdempotencyKey] = true
	}
	return nil
}

// insertLocked keeps each account's log ordered by EffectiveAt, with equal
// timestamps kept in insertion order.
func (m *Memory) insertLocked(account generic.AccountID, ins generic.Instruction) {
	log := m.instructions[account]
	i := sort.Search(len(log), func(i int) bool {
		return log[i].EffectiveAt.After(ins.EffectiveAt)
	})
	log = append(log, generic.Instruction{})
	copy(log[i+1:], log[i:])
	log[i] = ins
	m.instructions[account] = log
}

func (m *Memory) Load(_ context.Context, account generic.AccountID) ([]generic.Instruction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadLocked(account), nil
}

func (m *Memory) loadLocked(account generic.AccountID) []generic.Instruction {
	result := make([]generic.Instruction, len(m.instructions[account]))
	copy(result, m.instructions[account])
	return result
}

func (m *Memory) LoadRange(_ context.Context, account generic.AccountID, period generic.Period) ([]generic.Instruction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadRangeLocked(account, period), nil
}

func (m *Memory) loadRangeLocked(account generic.AccountID, period generic.Period) []generic.Instruction {
	var result []generic.Instruction
	for _, ins := range m.instructions[account] {
		if period.Contains(ins.EffectiveAt) {
			result = append(result, ins)
		}
	}
	return result
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}
