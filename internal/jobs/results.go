package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yourusername/archive-forge/internal/pdf"
)

// ResultKind は成果物の種別を表します。
type ResultKind string

const (
	ResultKindPDF ResultKind = "pdf"
	ResultKindZIP ResultKind = "zip"
)

// ResultFile はダウンロード対象の成果物です。
type ResultFile struct {
	TaskID   string
	Filename string
	Path     string
	Size     int64
	Kind     ResultKind
}

// ContentType は成果物の Content-Type を返します。
func (r *ResultFile) ContentType() string {
	switch r.Kind {
	case ResultKindPDF:
		return "application/pdf"
	case ResultKindZIP:
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}

// Documents は完了したタスクのPDF一覧を返します。
func (m *Manager) Documents(ctx context.Context, taskID string) ([]pdf.Document, error) {
	record, err := m.completed(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return record.Documents, nil
}

// OpenPackage はタスクのZIPを開きます。
func (m *Manager) OpenPackage(ctx context.Context, taskID string) (*ResultFile, *os.File, error) {
	record, err := m.completed(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	return openResult(taskID, record.PackagePath, ResultKindZIP)
}

// OpenDocument はタスクの index 番目（0始まり）のPDFを開きます。
func (m *Manager) OpenDocument(ctx context.Context, taskID string, index int) (*ResultFile, *os.File, error) {
	record, err := m.completed(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	if index < 0 || index >= len(record.Documents) {
		return nil, nil, fmt.Errorf("%w: document %d of task %s", ErrNotFound, index, taskID)
	}
	return openResult(taskID, record.Documents[index].Path, ResultKindPDF)
}

func (m *Manager) completed(ctx context.Context, taskID string) (*Record, error) {
	record, err := m.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if record.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotReady, taskID, record.Status)
	}
	return record, nil
}

func openResult(taskID, path string, kind ResultKind) (*ResultFile, *os.File, error) {
	if path == "" {
		return nil, nil, fmt.Errorf("%w: no result recorded", os.ErrNotExist)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	return &ResultFile{
		TaskID:   taskID,
		Filename: filepath.Base(path),
		Path:     path,
		Size:     info.Size(),
		Kind:     kind,
	}, file, nil
}
