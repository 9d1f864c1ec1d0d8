package jobs

import (
	"time"

	"github.com/yourusername/archive-forge/internal/pdf"
)

// Status はタスクの実行状態を表します。状態は前方にのみ遷移します。
type Status string

const (
	StatusCreated            Status = "created"
	StatusFetching           Status = "fetching"
	StatusExtracting         Status = "extracting"
	StatusCollecting         Status = "collecting"
	StatusProcessingImages   Status = "processing_images"
	StatusComposingDocuments Status = "composing_documents"
	StatusPackaging          Status = "packaging"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
)

var statusRank = map[Status]int{
	StatusCreated:            0,
	StatusFetching:           1,
	StatusExtracting:         2,
	StatusCollecting:         3,
	StatusProcessingImages:   4,
	StatusComposingDocuments: 5,
	StatusPackaging:          6,
	StatusCompleted:          7,
}

// Terminal は完了または失敗した状態かを返します。
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo は s から next への遷移が許されるかを返します。
// 同じ状態への遷移（進捗のみの更新）は終了状態以外で許されます。
// Failed は終了状態以外のどこからでも遷移できます。
func (s Status) CanTransitionTo(next Status) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to >= from
}

// SourceKind はタスクの入力の種類です。
type SourceKind string

const (
	SourceUpload SourceKind = "upload"
	SourceAlbum  SourceKind = "album"
)

// Source はタスクに投入された入力の情報です。
type Source struct {
	Kind         SourceKind `json:"kind"`
	OriginalName string     `json:"originalName,omitempty"`
	AlbumID      string     `json:"albumId,omitempty"`
	Path         string     `json:"path,omitempty"`
	Size         int64      `json:"size,omitempty"`
	// Fingerprint はアーカイブの BLAKE2b-256 ハッシュ（16進）です。
	Fingerprint string `json:"fingerprint,omitempty"`
}

// ErrorInfo はタスク失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Record はタスクの現在状態を表します。
type Record struct {
	TaskID      string         `json:"taskId"`
	Status      Status         `json:"status"`
	Progress    int            `json:"progress"`
	Step        string         `json:"step"`
	Message     string         `json:"message,omitempty"`
	Error       *ErrorInfo     `json:"error,omitempty"`
	Source      Source         `json:"source"`
	Documents   []pdf.Document `json:"documents,omitempty"`
	PackagePath string         `json:"packagePath,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// DocumentCount は生成されたPDFの数です。
func (r *Record) DocumentCount() int {
	if r == nil {
		return 0
	}
	return len(r.Documents)
}

// Clone はスライスを含めて Record を複製します。
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Error != nil {
		e := *r.Error
		c.Error = &e
	}
	if r.Documents != nil {
		c.Documents = append([]pdf.Document(nil), r.Documents...)
	}
	return &c
}
