// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: session, validation, storage, system
	Action   string // ユーザー向け対処方法
	Err      error  // 原因となったエラー（永続化失敗時など）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeAlreadyActive      = "ALREADY_ACTIVE"
	ErrCodeNoActiveSession    = "NO_ACTIVE_SESSION"
	ErrCodeInvalidInterval    = "INVALID_INTERVAL"
	ErrCodePersistenceFailure = "PERSISTENCE_FAILURE"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeResetNotConfirmed  = "RESET_NOT_CONFIRMED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// HasCode はerrのチェーン中に指定コードのAPIErrorが含まれるかを返す。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// CodeOf はerrのチェーン中のAPIErrorのコードを返す。
// APIErrorが含まれない場合はErrCodeInternalを返す。
func CodeOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ErrCodeInternal
}

// NewAlreadyActiveError は既に出勤中のユーザーが再度出勤しようとした場合のエラーを生成する。
func NewAlreadyActiveError(userID string) *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyActive,
		Message:  fmt.Sprintf("user %s is already clocked in", userID),
		Category: "session",
		Action:   "Clock out before starting a new session.",
	}
}

// NewNoActiveSessionError は稼働中セッションがないのに退勤・経過確認を行った場合のエラーを生成する。
func NewNoActiveSessionError(userID string) *APIError {
	return &APIError{
		Code:     ErrCodeNoActiveSession,
		Message:  fmt.Sprintf("user %s has no active session", userID),
		Category: "session",
		Action:   "Clock in first.",
	}
}

// NewInvalidIntervalError は終了時刻が開始時刻より前になる場合のエラーを生成する。
// 時計の巻き戻りなどで発生し、負の時間は記録しない。
func NewInvalidIntervalError(userID string, elapsedMs int64) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInterval,
		Message:  fmt.Sprintf("negative interval for user %s: %dms", userID, elapsedMs),
		Category: "validation",
		Action:   "Check the host clock and try again.",
	}
}

// NewPersistenceError は永続化層への読み書きに失敗した場合のエラーを生成する。
func NewPersistenceError(op string, err error) *APIError {
	return &APIError{
		Code:     ErrCodePersistenceFailure,
		Message:  fmt.Sprintf("storage operation %q failed", op),
		Category: "storage",
		Action:   "Try again in a moment.",
		Err:      err,
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "too many requests",
		Category: "validation",
		Action:   "Wait a few seconds before trying again.",
	}
}

// NewResetNotConfirmedError は全データリセットの確認トークンが無効な場合のエラーを生成する。
func NewResetNotConfirmedError() *APIError {
	return &APIError{
		Code:     ErrCodeResetNotConfirmed,
		Message:  "reset confirmation is missing, expired or belongs to another user",
		Category: "validation",
		Action:   "Run the reset command again.",
	}
}
