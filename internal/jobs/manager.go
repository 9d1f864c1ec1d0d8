package jobs

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"

	"github.com/yourusername/archive-forge/internal/config"
	"github.com/yourusername/archive-forge/internal/pdf"
	"github.com/yourusername/archive-forge/internal/progress"
	"github.com/yourusername/archive-forge/internal/storage"
)

// Fetcher はリモートアルバムを取得してローカルのアーカイブのパスを返します。
// 取得の進捗は sink に 0〜100 で通知します。
type Fetcher interface {
	Fetch(ctx context.Context, albumID, destDir string, sink progress.Sink) (string, error)
}

// Options はパイプラインの動作設定です。
type Options struct {
	MaxExtractDepth  int
	ZipNameEncoding  string
	PageSize         pdf.PageSize
	MaxImageWidth    int
	MaxImageHeight   int
	ImageWorkers     int
	OptimizePDF      bool
	DocumentBaseName string
	Retention        storage.Retention
}

// OptionsFromConfig は設定からパイプラインの動作設定を作成します。
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	pageSize, err := pdf.ParsePageSize(cfg.PageSize)
	if err != nil {
		return Options{}, err
	}
	return Options{
		MaxExtractDepth:  cfg.MaxExtractDepth,
		ZipNameEncoding:  cfg.ZipNameEncoding,
		PageSize:         pageSize,
		MaxImageWidth:    cfg.MaxImageWidth,
		MaxImageHeight:   cfg.MaxImageHeight,
		ImageWorkers:     cfg.ImageWorkers,
		OptimizePDF:      cfg.OptimizePDF,
		DocumentBaseName: cfg.DocumentBaseName,
		Retention: storage.Retention{
			Uploads: cfg.UploadRetention,
			Temp:    cfg.TempRetention,
			Outputs: cfg.OutputRetention,
		},
	}, nil
}

// Manager はタスクの投入と状態管理を担います。
type Manager struct {
	store     Store
	scheduler Scheduler
	layout    *storage.Layout
	fetcher   Fetcher
	opts      Options
	logger    zerolog.Logger
	now       func() time.Time
}

// NewManager は Manager を初期化し、スケジューラを起動します。
// fetcher が nil の場合、アルバムの投入はできません。
func NewManager(store Store, scheduler Scheduler, layout *storage.Layout, fetcher Fetcher, opts Options, logger zerolog.Logger) (*Manager, error) {
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if scheduler == nil {
		return nil, errors.New("scheduler is nil")
	}
	if layout == nil {
		return nil, errors.New("layout is nil")
	}
	m := &Manager{
		store:     store,
		scheduler: scheduler,
		layout:    layout,
		fetcher:   fetcher,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
	if err := scheduler.Start(m.Run); err != nil {
		return nil, fmt.Errorf("start scheduler: %w", err)
	}
	return m, nil
}

// SubmitArchive はアーカイブをデータディレクトリに保存してタスクを作成し、実行をスケジュールします。
// パイプラインの完了は待ちません。
func (m *Manager) SubmitArchive(ctx context.Context, originalName string, r io.Reader) (*Record, error) {
	if r == nil {
		return nil, errors.New("archive reader is nil")
	}
	taskID := uuid.NewString()
	path := m.layout.UploadPath(taskID, originalName)

	size, fingerprint, err := saveWithFingerprint(path, r)
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	record := &Record{
		TaskID:   taskID,
		Status:   StatusCreated,
		Progress: 0,
		Step:     "queued",
		Source: Source{
			Kind:         SourceUpload,
			OriginalName: filepath.Base(originalName),
			Path:         path,
			Size:         size,
			Fingerprint:  fingerprint,
		},
	}
	if err := m.enqueue(ctx, record); err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	return record, nil
}

// SubmitAlbum はリモートアルバムを入力とするタスクを作成し、実行をスケジュールします。
func (m *Manager) SubmitAlbum(ctx context.Context, albumID string) (*Record, error) {
	albumID = strings.TrimSpace(albumID)
	if albumID == "" {
		return nil, errors.New("album id is required")
	}
	if m.fetcher == nil {
		return nil, errors.New("album fetching is not configured")
	}
	record := &Record{
		TaskID: uuid.NewString(),
		Status: StatusCreated,
		Step:   "queued",
		Source: Source{
			Kind:    SourceAlbum,
			AlbumID: albumID,
		},
	}
	if err := m.enqueue(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (m *Manager) enqueue(ctx context.Context, record *Record) error {
	if err := m.store.Put(ctx, record); err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	if err := m.scheduler.Schedule(ctx, record.TaskID); err != nil {
		_ = m.store.Delete(context.WithoutCancel(ctx), record.TaskID)
		return fmt.Errorf("schedule task: %w", err)
	}
	m.logger.Info().
		Str("task_id", record.TaskID).
		Str("source", string(record.Source.Kind)).
		Msg("task submitted")
	return nil
}

// Get はタスク情報を取得します。存在しない場合は ErrNotFound を返します。
func (m *Manager) Get(ctx context.Context, taskID string) (*Record, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, fmt.Errorf("%w: empty task id", ErrNotFound)
	}
	record, err := m.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	return record, nil
}

// List はすべてのタスクを返します。
func (m *Manager) List(ctx context.Context) ([]*Record, error) {
	return m.store.List(ctx)
}

// Cleanup はタスクのファイルとレコードを削除します。実行中のタスクは削除できません。
func (m *Manager) Cleanup(ctx context.Context, taskID string) (storage.CleanupReport, error) {
	record, err := m.Get(ctx, taskID)
	if err != nil {
		return storage.CleanupReport{}, err
	}
	if !record.Status.Terminal() {
		return storage.CleanupReport{}, fmt.Errorf("%w: %s", ErrTaskActive, taskID)
	}
	report := m.layout.RemoveTask(taskID)
	if err := m.store.Delete(ctx, taskID); err != nil {
		m.logger.Warn().Err(err).Str("task_id", taskID).Msg("failed to delete task record")
	}
	m.logger.Info().Str("task_id", taskID).Int("removed", len(report.Removed)).Msg("task cleaned up")
	return report, nil
}

// Sweep は保持期間を過ぎたファイルと、成果物の保持期間を過ぎた終了済みタスクを削除します。
func (m *Manager) Sweep(ctx context.Context) storage.CleanupReport {
	now := m.now()
	report := m.layout.Sweep(now, m.opts.Retention)

	if m.opts.Retention.Outputs <= 0 {
		return report
	}
	records, err := m.store.List(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to list tasks for sweep")
		return report
	}
	cutoff := now.Add(-m.opts.Retention.Outputs)
	for _, r := range records {
		if r.Status.Terminal() && r.UpdatedAt.Before(cutoff) {
			if err := m.store.Delete(ctx, r.TaskID); err != nil {
				m.logger.Warn().Err(err).Str("task_id", r.TaskID).Msg("failed to delete expired task")
			}
		}
	}
	return report
}

// Shutdown は実行中のタスクを停止します。
func (m *Manager) Shutdown(ctx context.Context) error {
	return m.scheduler.Shutdown(ctx)
}

func saveWithFingerprint(path string, r io.Reader) (int64, string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return 0, "", fmt.Errorf("create upload dir: %w", err)
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return 0, "", fmt.Errorf("create upload file: %w", err)
	}
	hash, _ := blake2b.New256(nil)
	size, err := io.Copy(io.MultiWriter(out, hash), r)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, "", fmt.Errorf("save upload: %w", err)
	}
	return size, hex.EncodeToString(hash.Sum(nil)), nil
}

func fingerprintFile(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()
	hash, _ := blake2b.New256(nil)
	size, err := io.Copy(hash, f)
	if err != nil {
		return 0, "", err
	}
	return size, hex.EncodeToString(hash.Sum(nil)), nil
}
