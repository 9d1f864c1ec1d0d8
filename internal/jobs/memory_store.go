package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore はプロセス内のマップにタスク状態を保持します。再起動すると失われます。
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryStore は空の MemoryStore を作成します。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// Get はタスクの複製を返します。
func (s *MemoryStore) Get(_ context.Context, taskID string) (*Record, error) {
	if taskID == "" {
		return nil, fmt.Errorf("taskID is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[taskID].Clone(), nil
}

// Put はタスクを保存します。
func (s *MemoryStore) Put(_ context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	now := s.now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.TaskID] = record.Clone()
	return nil
}

// Update はロックを保持したまま mutate を適用します。
func (s *MemoryStore) Update(_ context.Context, taskID string, mutate func(*Record) error) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	record := current.Clone()
	if err := mutate(record); err != nil {
		return nil, err
	}
	record.UpdatedAt = s.now().UTC()
	s.records[taskID] = record
	return record.Clone(), nil
}

// List はすべてのタスクを作成日時順に返します。
func (s *MemoryStore) List(_ context.Context) ([]*Record, error) {
	s.mu.RLock()
	records := make([]*Record, 0, len(s.records))
	for _, r := range s.records {
		records = append(records, r.Clone())
	}
	s.mu.RUnlock()

	sortRecords(records)
	return records, nil
}

// Delete はタスクを削除します。存在しない場合も成功します。
func (s *MemoryStore) Delete(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, taskID)
	return nil
}
