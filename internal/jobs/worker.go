// Package jobs はタスクの状態管理と、アーカイブからPDFを生成するパイプラインの実行を担います。
package jobs

import (
	"context"
	"errors"
	"sync"
)

// RunFunc はタスクIDを受け取ってパイプラインを実行する関数です。
type RunFunc func(ctx context.Context, taskID string)

// Scheduler はタスクの実行をスケジュールします。Schedule は実行の完了を待たずに戻ります。
type Scheduler interface {
	Start(run RunFunc) error
	Schedule(ctx context.Context, taskID string) error
	Shutdown(ctx context.Context) error
}

var errSchedulerStopped = errors.New("scheduler is stopped")

// GoroutineScheduler はタスクごとに goroutine を起動します。
// limit が正の場合、同時に実行するタスク数をその数までに制限します。
type GoroutineScheduler struct {
	run    RunFunc
	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
}

// NewGoroutineScheduler は GoroutineScheduler を作成します。limit が0以下なら無制限です。
func NewGoroutineScheduler(limit int) *GoroutineScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &GoroutineScheduler{ctx: ctx, cancel: cancel}
	if limit > 0 {
		s.sem = make(chan struct{}, limit)
	}
	return s
}

// Start は実行関数を登録します。
func (s *GoroutineScheduler) Start(run RunFunc) error {
	if run == nil {
		return errors.New("run func is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.run = run
	return nil
}

// Schedule はタスクをバックグラウンドで実行します。
func (s *GoroutineScheduler) Schedule(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errSchedulerStopped
	}
	if s.run == nil {
		return errors.New("scheduler is not started")
	}
	run := s.run

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if s.sem != nil {
			select {
			case s.sem <- struct{}{}:
				defer func() { <-s.sem }()
			case <-s.ctx.Done():
				// 実行枠を待つ間に停止された場合も、キャンセルとして記録させる
			}
		}
		run(s.ctx, taskID)
	}()
	return nil
}

// Shutdown は実行中のタスクをキャンセルし、終了を待ちます。
func (s *GoroutineScheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
