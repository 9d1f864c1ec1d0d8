package jobs

import (
	"errors"
	"fmt"
)

// タスク失敗時に記録するエラーコード。
const (
	CodeExtractEmpty   = "EXTRACT_EMPTY"
	CodeNoImages       = "NO_IMAGES"
	CodeNoDocuments    = "NO_DOCUMENTS"
	CodePackageFailed  = "PACKAGE_FAILED"
	CodeFetchFailed    = "FETCH_FAILED"
	CodeWorkspaceError = "WORKSPACE_ERROR"
	CodeCanceled       = "CANCELED"
	CodeInternalError  = "INTERNAL_ERROR"
)

var (
	// ErrNotFound は指定されたタスクが存在しないことを表します。
	ErrNotFound = errors.New("task not found")
	// ErrNotReady はタスクがまだ完了していないことを表します。
	ErrNotReady = errors.New("task is not completed")
	// ErrTaskActive は実行中のタスクに対して削除が要求されたことを表します。
	ErrTaskActive = errors.New("task is still running")

	errInvalidTransition = errors.New("invalid status transition")
)

// Error はユーザー向けメッセージとコードを持つエラーです。
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// errorInfo はエラーをタスクに記録する形に変換します。
func errorInfo(err error) *ErrorInfo {
	var taskErr *Error
	if errors.As(err, &taskErr) {
		info := &ErrorInfo{Code: taskErr.Code, Message: taskErr.Message}
		if taskErr.Err != nil {
			info.Detail = taskErr.Err.Error()
		}
		return info
	}
	return &ErrorInfo{
		Code:    CodeInternalError,
		Message: "処理中に予期しないエラーが発生しました。",
		Detail:  err.Error(),
	}
}
