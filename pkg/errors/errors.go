// Package errors 提供對戰服務的錯誤分類
//
// 錯誤依處理方式分為幾類：
//   - USER_STATE：動作抵達時 session 沒有對局或對局不在 playing，靜默丟棄
//   - NOT_FOUND：加入不存在或已滿的房間，以 matchError 回覆發送者
//   - RACE：配對後連線已消失，記錄日誌並丟棄半邊配對
//   - ALREADY_QUEUED：重複排隊，以狀態回覆而非失敗
//
// 核心流程中沒有任何錯誤會導致程序終止。
package errors

import (
	"errors"
	"fmt"
)

// 定義錯誤碼
const (
	// ErrCodeNotFound 資源未找到
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeAlreadyExists 資源已存在
	ErrCodeAlreadyExists = "ALREADY_EXISTS"
	// ErrCodeAlreadyQueued 已在配對佇列中
	ErrCodeAlreadyQueued = "ALREADY_QUEUED"
	// ErrCodeUserState 連線狀態不允許此動作
	ErrCodeUserState = "USER_STATE"
	// ErrCodeRace 連線在配對與通知之間消失
	ErrCodeRace = "RACE"
	// ErrCodeInvalidInput 無效輸入
	ErrCodeInvalidInput = "INVALID_INPUT"
	// ErrCodeUnavailable 服務不可用
	ErrCodeUnavailable = "SERVICE_UNAVAILABLE"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 以錯誤碼比較，讓 errors.Is 可以匹配預定義錯誤
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code && (t.Message == "" || e.Message == t.Message)
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 返回帶有詳細資訊的副本，不修改預定義錯誤本身
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// 預定義錯誤
var (
	// ErrMatchNotFound 房間不存在或已滿
	ErrMatchNotFound = New(ErrCodeNotFound, "match_not_found")

	// ErrPlayerNotFound 目標不是該對局的玩家
	ErrPlayerNotFound = New(ErrCodeNotFound, "player_not_found")

	// ErrMatchExists 對局 ID 已被使用
	ErrMatchExists = New(ErrCodeAlreadyExists, "match_exists")

	// ErrAlreadyQueued 已在配對佇列中
	ErrAlreadyQueued = New(ErrCodeAlreadyQueued, "already_queued")

	// ErrAlreadyInMatch 仍是另一場未結束對局的玩家
	ErrAlreadyInMatch = New(ErrCodeUserState, "already_in_match")

	// ErrNoMatch session 沒有綁定對局
	ErrNoMatch = New(ErrCodeUserState, "no_current_match")

	// ErrNotPlaying 對局不在 playing 狀態
	ErrNotPlaying = New(ErrCodeUserState, "match_not_playing")

	// ErrSessionGone 配對後連線已不存在
	ErrSessionGone = New(ErrCodeRace, "session_gone")

	// ErrUnavailable 選配元件未啟用
	ErrUnavailable = New(ErrCodeUnavailable, "service unavailable")
)

// IsNotFound 檢查是否為未找到錯誤
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsUserState 檢查是否為應靜默丟棄的狀態錯誤
func IsUserState(err error) bool {
	return hasCode(err, ErrCodeUserState)
}

// IsRace 檢查是否為配對競態錯誤
func IsRace(err error) bool {
	return hasCode(err, ErrCodeRace)
}

// IsUnavailable 檢查是否為服務不可用錯誤
func IsUnavailable(err error) bool {
	return hasCode(err, ErrCodeUnavailable)
}

func hasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
