package jobs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"runtime/debug"

	"github.com/yourusername/archive-forge/internal/archive"
	"github.com/yourusername/archive-forge/internal/imaging"
	"github.com/yourusername/archive-forge/internal/pdf"
	"github.com/yourusername/archive-forge/internal/progress"
)

// ステージ境界での進捗値。
const (
	progressStarted    = 5
	progressExtracting = 10
	progressExtracted  = 30
	progressCollecting = 40
	progressCollected  = 50
	progressProcessing = 60
	progressProcessed  = 70
	progressComposing  = 80
	progressComposed   = 90
	progressPackaging  = 95
	progressDone       = 100
)

// Run はタスクのパイプラインを実行します。スケジューラから呼ばれます。
// パイプライン内のエラーやパニックはすべてタスクの失敗として記録され、呼び出し元には伝播しません。
func (m *Manager) Run(ctx context.Context, taskID string) {
	logger := m.logger.With().Str("task_id", taskID).Logger()

	record, err := m.store.Get(ctx, taskID)
	if err != nil || record == nil {
		logger.Error().Err(err).Msg("task record not available, skipping run")
		return
	}
	if record.Status != StatusCreated {
		logger.Warn().Str("status", string(record.Status)).Msg("task already started, skipping run")
		return
	}

	runErr := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("pipeline panicked")
				err = newError(CodeInternalError, "処理中に予期しないエラーが発生しました。", fmt.Errorf("panic: %v", r))
			}
		}()
		return m.execute(ctx, record)
	}()

	// キャンセル後も結果を記録できるよう、親のキャンセルを引き継がない
	bg := context.WithoutCancel(ctx)
	if runErr != nil {
		if ctx.Err() != nil && (errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded)) {
			runErr = newError(CodeCanceled, "処理がキャンセルされました。", runErr)
		}
		m.fail(bg, taskID, runErr)
		m.layout.RemoveOutputs(taskID)
	}

	report := m.layout.RemoveInputs(taskID)
	if len(report.Failed) > 0 {
		logger.Warn().Strs("paths", report.Failed).Msg("failed to remove task inputs")
	}
}

func (m *Manager) execute(ctx context.Context, record *Record) error {
	taskID := record.TaskID
	archivePath := record.Source.Path

	if record.Source.Kind == SourceAlbum {
		if err := m.transition(ctx, taskID, StatusFetching, progressStarted, "fetching", "アルバムを取得しています"); err != nil {
			return err
		}
		fetchSink := m.sink(ctx, taskID, progressStarted, progressExtracting)
		fetched, err := m.fetcher.Fetch(ctx, record.Source.AlbumID, m.layout.FetchDir(taskID), fetchSink)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return newError(CodeFetchFailed, "fetch failed", err)
		}
		archivePath = fetched
		size, fingerprint, err := fingerprintFile(fetched)
		if err != nil {
			return newError(CodeWorkspaceError, "取得したアーカイブを読み込めませんでした。", err)
		}
		if _, err := m.store.Update(ctx, taskID, func(r *Record) error {
			r.Source.Path = fetched
			r.Source.Size = size
			r.Source.Fingerprint = fingerprint
			return nil
		}); err != nil {
			return err
		}
	} else if err := m.advance(ctx, taskID, progressStarted, "starting", "処理を開始します"); err != nil {
		return err
	}

	// 展開
	if err := m.transition(ctx, taskID, StatusExtracting, progressExtracting, "extracting", "アーカイブを展開しています"); err != nil {
		return err
	}
	extractDir := m.layout.ExtractDir(taskID)
	extractor := &archive.Extractor{
		MaxDepth:     m.opts.MaxExtractDepth,
		NameEncoding: m.opts.ZipNameEncoding,
		Sink:         m.sink(ctx, taskID, progressExtracting, progressExtracted),
		Logger:       m.logger,
	}
	files := extractor.Extract(ctx, archivePath, extractDir)
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(files) == 0 {
		return newError(CodeExtractEmpty, "アーカイブから展開できるファイルがありませんでした。", errors.New("extraction produced no files"))
	}
	if err := m.advance(ctx, taskID, progressExtracted, "extracted", fmt.Sprintf("%d 個のファイルを展開しました", len(files))); err != nil {
		return err
	}

	// 画像の収集
	if err := m.transition(ctx, taskID, StatusCollecting, progressCollecting, "collecting", "画像を収集しています"); err != nil {
		return err
	}
	groups, err := imaging.Collect(extractDir)
	if err != nil {
		return newError(CodeWorkspaceError, "展開したファイルを読み込めませんでした。", err)
	}
	if len(groups) == 0 {
		return newError(CodeNoImages, "画像ファイルが見つかりませんでした。", errors.New("no image groups found"))
	}
	if err := m.advance(ctx, taskID, progressCollected, "collected", fmt.Sprintf("%d 個のフォルダで画像が見つかりました", len(groups))); err != nil {
		return err
	}

	// 画像の正規化
	if err := m.transition(ctx, taskID, StatusProcessingImages, progressProcessing, "processing_images", "画像を処理しています"); err != nil {
		return err
	}
	processed := make([]imaging.Group, len(groups))
	for i, group := range groups {
		from, to := band(progressProcessing, progressProcessed, i, len(groups))
		normalizer := &imaging.Normalizer{
			MaxWidth:  m.opts.MaxImageWidth,
			MaxHeight: m.opts.MaxImageHeight,
			Workers:   m.opts.ImageWorkers,
			Sink:      m.sink(ctx, taskID, from, to),
			Logger:    m.logger,
		}
		outDir := filepath.Join(m.layout.NormalizedDir(taskID), fmt.Sprintf("%04d", i))
		images, err := normalizer.ProcessGroup(ctx, group.Images, outDir)
		if err != nil {
			return err
		}
		processed[i] = imaging.Group{Dir: group.Dir, Images: images}
	}
	if err := m.advance(ctx, taskID, progressProcessed, "processed_images", "画像の処理が完了しました"); err != nil {
		return err
	}

	// PDFの生成
	if err := m.transition(ctx, taskID, StatusComposingDocuments, progressComposing, "composing_documents", "PDFを生成しています"); err != nil {
		return err
	}
	composer := &pdf.Composer{
		PageSize: m.opts.PageSize,
		Optimize: m.opts.OptimizePDF,
		Sink:     m.sink(ctx, taskID, progressComposing, progressComposed),
		Logger:   m.logger,
	}
	documents, err := composer.ComposeByFolder(ctx, extractDir, processed, m.layout.DocumentDir(taskID), m.opts.DocumentBaseName)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return newError(CodeWorkspaceError, "PDFの出力先を準備できませんでした。", err)
	}
	if len(documents) == 0 {
		return newError(CodeNoDocuments, "PDFを生成できませんでした。", errors.New("no documents were produced"))
	}
	if err := m.advance(ctx, taskID, progressComposed, "composed_documents", fmt.Sprintf("%d 個のPDFを生成しました", len(documents))); err != nil {
		return err
	}

	// ZIPへのまとめ
	if err := m.transition(ctx, taskID, StatusPackaging, progressPackaging, "packaging", "PDFをZIPにまとめています"); err != nil {
		return err
	}
	paths := make([]string, len(documents))
	for i, doc := range documents {
		paths[i] = doc.Path
	}
	packagePath := m.layout.PackagePath(taskID)
	if err := pdf.CreatePackage(paths, packagePath); err != nil {
		return newError(CodePackageFailed, "ZIPファイルの作成に失敗しました。", err)
	}

	return m.complete(ctx, taskID, documents, packagePath)
}

// transition は状態を進め、進捗とステップを更新します。
func (m *Manager) transition(ctx context.Context, taskID string, status Status, percent int, step, message string) error {
	record, err := m.store.Update(ctx, taskID, func(r *Record) error {
		if !r.Status.CanTransitionTo(status) {
			return fmt.Errorf("%w: %s -> %s", errInvalidTransition, r.Status, status)
		}
		r.Status = status
		r.Progress = max(r.Progress, percent)
		r.Step = step
		r.Message = message
		return nil
	})
	if err != nil {
		return err
	}
	m.logger.Info().
		Str("task_id", taskID).
		Str("status", string(record.Status)).
		Int("progress", record.Progress).
		Msg("task transitioned")
	return nil
}

// advance は状態を変えずに進捗とステップを更新します。
func (m *Manager) advance(ctx context.Context, taskID string, percent int, step, message string) error {
	_, err := m.store.Update(ctx, taskID, func(r *Record) error {
		if r.Status.Terminal() {
			return fmt.Errorf("%w: task already %s", errInvalidTransition, r.Status)
		}
		r.Progress = max(r.Progress, percent)
		r.Step = step
		r.Message = message
		return nil
	})
	return err
}

func (m *Manager) complete(ctx context.Context, taskID string, documents []pdf.Document, packagePath string) error {
	record, err := m.store.Update(ctx, taskID, func(r *Record) error {
		if !r.Status.CanTransitionTo(StatusCompleted) {
			return fmt.Errorf("%w: %s -> %s", errInvalidTransition, r.Status, StatusCompleted)
		}
		r.Status = StatusCompleted
		r.Progress = progressDone
		r.Step = "completed"
		r.Message = fmt.Sprintf("%d 個のPDFを生成しました", len(documents))
		r.Documents = documents
		r.PackagePath = packagePath
		r.Error = nil
		return nil
	})
	if err != nil {
		return err
	}
	m.logger.Info().
		Str("task_id", taskID).
		Str("status", string(record.Status)).
		Int("documents", len(documents)).
		Msg("task completed")
	return nil
}

func (m *Manager) fail(ctx context.Context, taskID string, cause error) {
	info := errorInfo(cause)
	_, err := m.store.Update(ctx, taskID, func(r *Record) error {
		if r.Status.Terminal() {
			return fmt.Errorf("%w: task already %s", errInvalidTransition, r.Status)
		}
		r.Status = StatusFailed
		r.Progress = progressDone
		r.Step = "failed"
		r.Message = info.Message
		r.Error = info
		r.Documents = nil
		r.PackagePath = ""
		return nil
	})
	if err != nil {
		m.logger.Error().Err(err).Str("task_id", taskID).Msg("failed to record task failure")
		return
	}
	m.logger.Error().
		Str("task_id", taskID).
		Str("code", info.Code).
		Str("detail", info.Detail).
		Msg("task failed")
}

// sink はステージ内の進捗を [from, to] に写像してタスクに記録する Sink を返します。
func (m *Manager) sink(ctx context.Context, taskID string, from, to int) progress.Sink {
	store := progress.SinkFunc(func(message string, percent float64) {
		_, err := m.store.Update(ctx, taskID, func(r *Record) error {
			if r.Status.Terminal() {
				return errInvalidTransition
			}
			if percent != progress.NoPercent {
				r.Progress = max(r.Progress, int(math.Floor(percent)))
			}
			r.Message = message
			return nil
		})
		if err != nil && ctx.Err() == nil {
			m.logger.Debug().Err(err).Str("task_id", taskID).Msg("failed to record progress")
		}
	})
	return progress.Band(store, float64(from), float64(to))
}

// band は n 個のグループのうち i 番目が使う進捗の範囲を返します。
func band(from, to, i, n int) (int, int) {
	if n <= 0 {
		return from, to
	}
	span := to - from
	return from + span*i/n, from + span*(i+1)/n
}
