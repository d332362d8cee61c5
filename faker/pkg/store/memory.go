package store

import (
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/malbeclabs/tsfaker/faker/pkg/rowkey"
	"github.com/malbeclabs/tsfaker/faker/pkg/series"
)

// Memory is an in-process Client. It backs dry runs without a real store
// and the engine tests.
type Memory struct {
	mu        sync.RWMutex
	rows      map[rowkey.RowKey]Row
	readErrs  map[string]error
	writeErrs map[string]error
	writes    atomic.Int64
	reads     atomic.Int64
}

func NewMemory() *Memory {
	return &Memory{
		rows:      map[rowkey.RowKey]Row{},
		readErrs:  map[string]error{},
		writeErrs: map[string]error{},
	}
}

// Put stores a row without counting it as a write.
func (m *Memory) Put(row Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row.Values = maps.Clone(row.Values)
	m.rows[row.Key] = row
}

// FailReads makes every read of entityID return err.
func (m *Memory) FailReads(entityID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErrs[entityID] = err
}

// FailWrites makes every write for entityID return err.
func (m *Memory) FailWrites(entityID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErrs[entityID] = err
}

func (m *Memory) ReadBaseline(ctx context.Context, namespace, table, entityID string, r series.Range) (series.Baseline, error) {
	m.reads.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.readErrs[entityID]; err != nil {
		return nil, err
	}

	b := series.Baseline{}
	for _, row := range m.rows {
		if row.Namespace != namespace || row.Table != table || row.EntityID != entityID || !r.Contains(row.Time) {
			continue
		}
		for col, v := range row.Values {
			b.Add(col, row.Time, v)
		}
	}
	b.Sort()
	return b, nil
}

func (m *Memory) Write(ctx context.Context, row Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeErrs[row.EntityID]; err != nil {
		return err
	}
	row.Values = maps.Clone(row.Values)
	m.rows[row.Key] = row
	m.writes.Add(1)
	return nil
}

func (m *Memory) Close() error { return nil }

// Writes is the number of successful Write calls.
func (m *Memory) Writes() int { return int(m.writes.Load()) }

// Reads is the number of ReadBaseline calls.
func (m *Memory) Reads() int { return int(m.reads.Load()) }

// Row returns the row stored under key.
func (m *Memory) Row(key rowkey.RowKey) (Row, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.rows[key]
	return row, ok
}

// Rows returns every stored row ordered by key.
func (m *Memory) Rows() []Row {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := slices.Sorted(maps.Keys(m.rows))
	out := make([]Row, 0, len(keys))
	for _, k := range keys {
		out = append(out, m.rows[k])
	}
	return out
}
