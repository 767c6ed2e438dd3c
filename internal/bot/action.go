// Package bot はチャット上の操作（ボタン・スラッシュコマンド）を台帳操作に変換する。
package bot

import "strings"

// Action はユーザー操作の種類を表す。
type Action int

const (
	ActionUnknown Action = iota
	ActionClockIn
	ActionClockOut
	ActionCheckTime
	ActionMyTotal
	ActionAllTotals
	ActionListActive
	ActionResetRequest
	ActionResetConfirm
)

// ボタンのカスタムID
const (
	ButtonClockIn      = "clockin"
	ButtonClockOut     = "clockout"
	ButtonCheckTime    = "checktime"
	ButtonResetConfirm = "resetconfirm"
)

// スラッシュコマンド名
const (
	CommandMyTotal    = "calculpontaj"
	CommandAllTotals  = "pontajtotalgeneral"
	CommandListActive = "pontajactivi"
	CommandReset      = "resetpontaj"
)

// resetConfirmSep はリセット確認ボタンのカスタムIDとトークンの区切り文字。
const resetConfirmSep = ":"

// String はメトリクスのラベルやログに使う名前を返す。
func (a Action) String() string {
	switch a {
	case ActionClockIn:
		return "clock_in"
	case ActionClockOut:
		return "clock_out"
	case ActionCheckTime:
		return "check_time"
	case ActionMyTotal:
		return "my_total"
	case ActionAllTotals:
		return "all_totals"
	case ActionListActive:
		return "list_active"
	case ActionResetRequest:
		return "reset_request"
	case ActionResetConfirm:
		return "reset_confirm"
	default:
		return "unknown"
	}
}

// requiresAdmin は管理者のみが実行できる操作かどうかを返す。
func (a Action) requiresAdmin() bool {
	return a == ActionResetRequest || a == ActionResetConfirm
}

// ParseButton はボタンのカスタムIDを操作に変換する。
// リセット確認ボタンの場合は埋め込まれたトークンも返す。
func ParseButton(customID string) (Action, string) {
	switch customID {
	case ButtonClockIn:
		return ActionClockIn, ""
	case ButtonClockOut:
		return ActionClockOut, ""
	case ButtonCheckTime:
		return ActionCheckTime, ""
	}

	prefix, token, ok := strings.Cut(customID, resetConfirmSep)
	if ok && prefix == ButtonResetConfirm && token != "" {
		return ActionResetConfirm, token
	}
	return ActionUnknown, ""
}

// ParseCommand はスラッシュコマンド名を操作に変換する。
func ParseCommand(name string) Action {
	switch name {
	case CommandMyTotal:
		return ActionMyTotal
	case CommandAllTotals:
		return ActionAllTotals
	case CommandListActive:
		return ActionListActive
	case CommandReset:
		return ActionResetRequest
	default:
		return ActionUnknown
	}
}

// resetConfirmID はトークンを埋め込んだリセット確認ボタンのカスタムIDを返す。
func resetConfirmID(token string) string {
	return ButtonResetConfirm + resetConfirmSep + token
}
