package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/yourusername/archive-forge/internal/pdf"
	"github.com/yourusername/archive-forge/internal/storage"
)

const (
	sessionTasksKey   = "task_ids"
	maxSessionTasks   = 20
	multipartOverhead = 1 << 20
)

// Service は HTTP ハンドラーが利用するタスク操作です。
type Service interface {
	SubmitArchive(ctx context.Context, originalName string, r io.Reader) (*Record, error)
	SubmitAlbum(ctx context.Context, albumID string) (*Record, error)
	Get(ctx context.Context, taskID string) (*Record, error)
	Documents(ctx context.Context, taskID string) ([]pdf.Document, error)
	OpenPackage(ctx context.Context, taskID string) (*ResultFile, *os.File, error)
	OpenDocument(ctx context.Context, taskID string, index int) (*ResultFile, *os.File, error)
	Cleanup(ctx context.Context, taskID string) (storage.CleanupReport, error)
	Sweep(ctx context.Context) storage.CleanupReport
}

// HandlerOptions はアップロードの制限です。
type HandlerOptions struct {
	MaxUploadBytes    int64
	AllowedExtensions []string
	Logger            zerolog.Logger
}

// Handler はタスク関連のエンドポイントを提供します。
type Handler struct {
	svc     Service
	maxSize int64
	allowed map[string]struct{}
	logger  zerolog.Logger
}

// NewHandler は Handler を作成します。
func NewHandler(svc Service, opts HandlerOptions) *Handler {
	allowed := make(map[string]struct{}, len(opts.AllowedExtensions))
	for _, ext := range opts.AllowedExtensions {
		allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}
	return &Handler{
		svc:     svc,
		maxSize: opts.MaxUploadBytes,
		allowed: allowed,
		logger:  opts.Logger,
	}
}

// Register はルートを登録します。セッションミドルウェアが設定されている必要があります。
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/upload", h.Upload)
	r.POST("/albums", h.SubmitAlbum)
	r.GET("/tasks", h.History)
	r.GET("/tasks/:id", h.Status)
	r.GET("/tasks/:id/download", h.Download)
	r.GET("/tasks/:id/documents", h.ListDocuments)
	r.GET("/tasks/:id/documents/:index", h.DownloadDocument)
	r.DELETE("/tasks/:id", h.Delete)
	r.POST("/cleanup", h.Sweep)
}

// Upload は POST /api/upload のハンドラーです。
func (h *Handler) Upload(c *gin.Context) {
	if h.maxSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxSize+multipartOverhead)
	}
	file, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.limitExceeded(c)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "multipart/form-data の file フィールドでアーカイブを送信してください。",
		})
		return
	}
	if h.maxSize > 0 && file.Size > h.maxSize {
		h.limitExceeded(c)
		return
	}
	if !h.extensionAllowed(file.Filename) {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "UNSUPPORTED_FORMAT",
			"message": "対応していないファイル形式です。",
		})
		return
	}

	src, err := file.Open()
	if err != nil {
		respondWithError(c, err)
		return
	}
	defer src.Close()

	record, err := h.svc.SubmitArchive(c.Request.Context(), file.Filename, src)
	if err != nil {
		h.logger.Error().Err(err).Str("filename", file.Filename).Msg("failed to submit archive")
		respondWithError(c, err)
		return
	}
	h.accepted(c, record)
}

// SubmitAlbum は POST /api/albums のハンドラーです。
func (h *Handler) SubmitAlbum(c *gin.Context) {
	var body struct {
		AlbumID string `json:"albumId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.AlbumID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "albumId を指定してください。",
		})
		return
	}
	record, err := h.svc.SubmitAlbum(c.Request.Context(), body.AlbumID)
	if err != nil {
		h.logger.Error().Err(err).Str("album_id", body.AlbumID).Msg("failed to submit album")
		respondWithError(c, err)
		return
	}
	h.accepted(c, record)
}

func (h *Handler) accepted(c *gin.Context, record *Record) {
	rememberTask(c, record.TaskID)
	c.JSON(http.StatusAccepted, gin.H{
		"taskId":    record.TaskID,
		"status":    record.Status,
		"statusUrl": statusURL(record.TaskID),
	})
}

// History は GET /api/tasks のハンドラーです。このセッションで投入したタスクを新しい順に返します。
func (h *Handler) History(c *gin.Context) {
	ids := sessionTasks(c)
	tasks := make([]gin.H, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		record, err := h.svc.Get(c.Request.Context(), ids[i])
		if err != nil {
			continue
		}
		tasks = append(tasks, statusPayload(record))
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// Status は GET /api/tasks/:id のハンドラーです。
func (h *Handler) Status(c *gin.Context) {
	record, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, statusPayload(record))
}

// Download は GET /api/tasks/:id/download のハンドラーです。
func (h *Handler) Download(c *gin.Context) {
	result, file, err := h.svc.OpenPackage(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	defer file.Close()
	streamResult(c, result, file)
}

// ListDocuments は GET /api/tasks/:id/documents のハンドラーです。
func (h *Handler) ListDocuments(c *gin.Context) {
	taskID := c.Param("id")
	documents, err := h.svc.Documents(c.Request.Context(), taskID)
	if err != nil {
		respondWithError(c, err)
		return
	}
	items := make([]gin.H, len(documents))
	for i, doc := range documents {
		items[i] = gin.H{
			"index":       i,
			"label":       doc.Label,
			"filename":    doc.Filename,
			"size":        doc.Size,
			"pages":       doc.Pages,
			"downloadUrl": fmt.Sprintf("/api/tasks/%s/documents/%d", taskID, i),
		}
	}
	c.JSON(http.StatusOK, gin.H{"taskId": taskID, "documents": items})
}

// DownloadDocument は GET /api/tasks/:id/documents/:index のハンドラーです。
func (h *Handler) DownloadDocument(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "index は整数で指定してください。",
		})
		return
	}
	result, file, err := h.svc.OpenDocument(c.Request.Context(), c.Param("id"), index)
	if err != nil {
		respondWithError(c, err)
		return
	}
	defer file.Close()
	streamResult(c, result, file)
}

// Delete は DELETE /api/tasks/:id のハンドラーです。
func (h *Handler) Delete(c *gin.Context) {
	report, err := h.svc.Cleanup(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"removed":    len(report.Removed),
		"failed":     len(report.Failed),
		"freedBytes": report.FreedBytes,
	})
}

// Sweep は POST /api/cleanup のハンドラーです。
func (h *Handler) Sweep(c *gin.Context) {
	report := h.svc.Sweep(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"removed":    len(report.Removed),
		"failed":     len(report.Failed),
		"freedBytes": report.FreedBytes,
	})
}

func (h *Handler) extensionAllowed(filename string) bool {
	if len(h.allowed) == 0 {
		return true
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	_, ok := h.allowed[ext]
	return ok
}

func (h *Handler) limitExceeded(c *gin.Context) {
	c.JSON(http.StatusRequestEntityTooLarge, gin.H{
		"code":    "LIMIT_EXCEEDED",
		"message": fmt.Sprintf("ファイルサイズの上限（%d MB）を超えています。", h.maxSize>>20),
	})
}

func statusURL(taskID string) string {
	return "/api/tasks/" + taskID
}

func statusPayload(record *Record) gin.H {
	payload := gin.H{
		"taskId":    record.TaskID,
		"status":    record.Status,
		"progress":  record.Progress,
		"step":      record.Step,
		"message":   record.Message,
		"createdAt": record.CreatedAt,
		"updatedAt": record.UpdatedAt,
		"source": gin.H{
			"kind":        record.Source.Kind,
			"name":        record.Source.OriginalName,
			"albumId":     record.Source.AlbumID,
			"size":        record.Source.Size,
			"fingerprint": record.Source.Fingerprint,
		},
	}
	if record.Error != nil {
		payload["error"] = record.Error
	}
	if record.Status == StatusCompleted {
		payload["documentCount"] = record.DocumentCount()
		payload["downloadUrl"] = statusURL(record.TaskID) + "/download"
		payload["documentsUrl"] = statusURL(record.TaskID) + "/documents"
	}
	return payload
}

func sessionTasks(c *gin.Context) []string {
	raw, _ := sessions.Default(c).Get(sessionTasksKey).(string)
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func rememberTask(c *gin.Context, taskID string) {
	ids := append(sessionTasks(c), taskID)
	if len(ids) > maxSessionTasks {
		ids = ids[len(ids)-maxSessionTasks:]
	}
	session := sessions.Default(c)
	session.Set(sessionTasksKey, strings.Join(ids, ","))
	// セッションを保存できなくてもタスク自体は受け付け済み
	_ = session.Save()
}

func respondWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "TASK_NOT_FOUND",
			"message": "指定されたタスクは存在しません。",
		})
	case errors.Is(err, ErrNotReady):
		c.JSON(http.StatusConflict, gin.H{
			"code":    "TASK_NOT_READY",
			"message": "タスクはまだ完了していません。",
		})
	case errors.Is(err, ErrTaskActive):
		c.JSON(http.StatusConflict, gin.H{
			"code":    "TASK_ACTIVE",
			"message": "実行中のタスクは削除できません。",
		})
	case errors.Is(err, fs.ErrNotExist):
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "RESULT_NOT_FOUND",
			"message": "タスクの成果物が見つかりませんでした。",
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}

func streamResult(c *gin.Context, result *ResultFile, file *os.File) {
	contentType := result.ContentType()
	encodedName := url.PathEscape(result.Filename)
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", result.Filename, encodedName))
	c.Header("Cache-Control", "no-store")
	c.Header("X-Task-Id", result.TaskID)
	c.DataFromReader(http.StatusOK, result.Size, contentType, file, nil)
}
