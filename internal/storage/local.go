// Package storage はタスクごとの作業ディレクトリと成果物の配置、およびその削除を扱います。
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	uploadsDir = "uploads"
	tempDir    = "temp"
	outputsDir = "outputs"
)

// Retention は領域ごとの保持期間です。0以下の領域は削除対象になりません。
type Retention struct {
	Uploads time.Duration
	Temp    time.Duration
	Outputs time.Duration
}

// DefaultRetention はアップロード24時間、作業領域12時間、成果物48時間です。
var DefaultRetention = Retention{
	Uploads: 24 * time.Hour,
	Temp:    12 * time.Hour,
	Outputs: 48 * time.Hour,
}

// CleanupReport は削除処理の結果です。削除に失敗しても処理は継続し、ここに記録されます。
type CleanupReport struct {
	Removed    []string `json:"removed"`
	Failed     []string `json:"failed,omitempty"`
	FreedBytes int64    `json:"freedBytes"`
}

func (r *CleanupReport) merge(other CleanupReport) {
	r.Removed = append(r.Removed, other.Removed...)
	r.Failed = append(r.Failed, other.Failed...)
	r.FreedBytes += other.FreedBytes
}

// Layout はデータディレクトリ配下のタスクごとの配置を決めます。
//
//	<root>/uploads/<taskID>_<元のファイル名>
//	<root>/temp/temp_<taskID>/{extract,normalized,fetch}
//	<root>/outputs/pdfs_<taskID>/
//	<root>/outputs/result_<taskID>.zip
type Layout struct {
	root   string
	logger zerolog.Logger
}

// NewLayout は root 配下に各領域のディレクトリを作成して Layout を返します。
func NewLayout(root string, logger zerolog.Logger) (*Layout, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("data dir is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	for _, dir := range []string{uploadsDir, tempDir, outputsDir} {
		if err := os.MkdirAll(filepath.Join(abs, dir), 0o750); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", dir, err)
		}
	}
	return &Layout{root: abs, logger: logger}, nil
}

// Root はデータディレクトリの絶対パスです。
func (l *Layout) Root() string { return l.root }

// UploadPath はアップロードされたアーカイブの保存先です。
func (l *Layout) UploadPath(taskID, filename string) string {
	return filepath.Join(l.root, uploadsDir, taskID+"_"+sanitizeFilename(filename))
}

// ScratchDir はタスク専用の作業ディレクトリです。
func (l *Layout) ScratchDir(taskID string) string {
	return filepath.Join(l.root, tempDir, "temp_"+taskID)
}

// ExtractDir はアーカイブの展開先です。
func (l *Layout) ExtractDir(taskID string) string {
	return filepath.Join(l.ScratchDir(taskID), "extract")
}

// NormalizedDir は変換した画像の書き出し先です。
func (l *Layout) NormalizedDir(taskID string) string {
	return filepath.Join(l.ScratchDir(taskID), "normalized")
}

// FetchDir はリモートアルバムの取得先です。
func (l *Layout) FetchDir(taskID string) string {
	return filepath.Join(l.ScratchDir(taskID), "fetch")
}

// DocumentDir は生成したPDFの出力先です。
func (l *Layout) DocumentDir(taskID string) string {
	return filepath.Join(l.root, outputsDir, "pdfs_"+taskID)
}

// PackagePath はPDFをまとめたZIPのパスです。
func (l *Layout) PackagePath(taskID string) string {
	return filepath.Join(l.root, outputsDir, "result_"+taskID+".zip")
}

// Owns は path がデータディレクトリ配下にあるかを返します。
func (l *Layout) Owns(path string) bool {
	rel, err := filepath.Rel(l.root, path)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

// RemoveInputs はタスクの入力（アップロード/取得したアーカイブと作業ディレクトリ）を削除します。
func (l *Layout) RemoveInputs(taskID string) CleanupReport {
	var report CleanupReport
	report.merge(l.remove(l.ScratchDir(taskID)))
	matches, _ := filepath.Glob(filepath.Join(l.root, uploadsDir, globEscape(taskID)+"_*"))
	for _, m := range matches {
		report.merge(l.remove(m))
	}
	return report
}

// RemoveOutputs はタスクの成果物（PDFとZIP）を削除します。
func (l *Layout) RemoveOutputs(taskID string) CleanupReport {
	var report CleanupReport
	report.merge(l.remove(l.DocumentDir(taskID)))
	report.merge(l.remove(l.PackagePath(taskID)))
	return report
}

// RemoveTask はタスクに関するファイルをすべて削除します。
func (l *Layout) RemoveTask(taskID string) CleanupReport {
	report := l.RemoveInputs(taskID)
	report.merge(l.RemoveOutputs(taskID))
	return report
}

// Sweep は保持期間を過ぎたエントリを各領域から削除します。
func (l *Layout) Sweep(now time.Time, retention Retention) CleanupReport {
	var report CleanupReport
	areas := []struct {
		dir string
		age time.Duration
	}{
		{uploadsDir, retention.Uploads},
		{tempDir, retention.Temp},
		{outputsDir, retention.Outputs},
	}
	for _, area := range areas {
		if area.age <= 0 {
			continue
		}
		dir := filepath.Join(l.root, area.dir)
		entries, err := os.ReadDir(dir)
		if err != nil {
			l.logger.Warn().Err(err).Str("dir", dir).Msg("failed to list directory for cleanup")
			report.Failed = append(report.Failed, dir)
			continue
		}
		cutoff := now.Add(-area.age)
		for _, entry := range entries {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				report.merge(l.remove(filepath.Join(dir, entry.Name())))
			}
		}
	}
	if len(report.Removed) > 0 || len(report.Failed) > 0 {
		l.logger.Info().
			Int("removed", len(report.Removed)).
			Int("failed", len(report.Failed)).
			Int64("freed_bytes", report.FreedBytes).
			Msg("cleanup sweep finished")
	}
	return report
}

func (l *Layout) remove(path string) CleanupReport {
	var report CleanupReport
	if !l.Owns(path) {
		report.Failed = append(report.Failed, path)
		return report
	}
	_, size, err := diskUsage(path)
	if errors.Is(err, fs.ErrNotExist) {
		return report
	}
	if err := os.RemoveAll(path); err != nil {
		l.logger.Warn().Err(err).Str("path", path).Msg("failed to remove")
		report.Failed = append(report.Failed, path)
		return report
	}
	report.Removed = append(report.Removed, path)
	report.FreedBytes = size
	return report
}

// AreaStats は領域ごとのファイル数と合計サイズです。
type AreaStats struct {
	Area  string `json:"area"`
	Files int    `json:"files"`
	Bytes int64  `json:"bytes"`
}

// Stats は uploads / temp / outputs の各領域の使用状況を返します。
func (l *Layout) Stats() ([]AreaStats, error) {
	stats := make([]AreaStats, 0, 3)
	for _, area := range []string{uploadsDir, tempDir, outputsDir} {
		files, size, err := diskUsage(filepath.Join(l.root, area))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("stat %s: %w", area, err)
		}
		stats = append(stats, AreaStats{Area: area, Files: files, Bytes: size})
	}
	return stats, nil
}

func diskUsage(path string) (int, int64, error) {
	var (
		files int
		total int64
	)
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				files++
				total += info.Size()
			}
		}
		return nil
	})
	return files, total, err
}

func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == ".." || name == "" {
		return "upload"
	}
	return name
}

func globEscape(s string) string {
	r := strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`, `\`, `\\`)
	return r.Replace(s)
}
