package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

const (
	taskTypeConvert = "archive:convert"
	queueName       = "archive"
)

// TaskPayload は変換タスクのペイロードです。
type TaskPayload struct {
	TaskID string `json:"taskId"`
}

// QueueScheduler は Asynq（Redis）のキューを経由してタスクを実行します。
type QueueScheduler struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	run    RunFunc
	logger zerolog.Logger
}

// NewQueueScheduler は QueueScheduler を初期化します。
func NewQueueScheduler(redisURL string, concurrency int, logger zerolog.Logger) (*QueueScheduler, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 4
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				queueName: 1,
			},
			Logger: asynqLogger{logger: logger.With().Str("component", "asynq").Logger()},
		},
	)

	return &QueueScheduler{
		client: client,
		server: server,
		mux:    asynq.NewServeMux(),
		logger: logger,
	}, nil
}

// Start は Asynq サーバーをバックグラウンドで起動します。
func (s *QueueScheduler) Start(run RunFunc) error {
	if run == nil {
		return errors.New("run func is nil")
	}
	s.run = run
	s.mux.HandleFunc(taskTypeConvert, s.handleTask)
	return s.server.Start(s.mux)
}

// Schedule はタスクをキューに投入します。
func (s *QueueScheduler) Schedule(ctx context.Context, taskID string) error {
	body, err := json.Marshal(TaskPayload{TaskID: taskID})
	if err != nil {
		return err
	}
	task := asynq.NewTask(taskTypeConvert, body, asynq.Queue(queueName))
	// 失敗はタスクの状態として記録されるため、キュー側では再実行しない
	info, err := s.client.EnqueueContext(ctx, task, asynq.MaxRetry(0), asynq.TaskID(taskID))
	if err != nil {
		return fmt.Errorf("enqueue task %s: %w", taskID, err)
	}
	s.logger.Debug().Str("task_id", taskID).Str("queue", info.Queue).Msg("task enqueued")
	return nil
}

// Shutdown はサーバーとクライアントを閉じます。
func (s *QueueScheduler) Shutdown(context.Context) error {
	s.server.Shutdown()
	return s.client.Close()
}

func (s *QueueScheduler) handleTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w: %w", err, asynq.SkipRetry)
	}
	if payload.TaskID == "" {
		return fmt.Errorf("missing taskId in payload: %w", asynq.SkipRetry)
	}
	if s.run == nil {
		return errors.New("scheduler is not started")
	}
	s.run(ctx, payload.TaskID)
	return nil
}

// asynqLogger は asynq.Logger を zerolog に接続します。
type asynqLogger struct {
	logger zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.logger.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.logger.Fatal().Msg(fmt.Sprint(args...)) }
