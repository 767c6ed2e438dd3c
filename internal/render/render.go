// Package render はBotの応答メッセージを組み立てる。
package render

import (
	"fmt"
	"strings"

	"github.com/hitoshi/timeclock/internal/model"
)

const (
	msPerHour   = 3_600_000
	msPerMinute = 60_000
)

// FormatHM はミリ秒を「Xh Ym」形式に変換する。秒以下は切り捨てる。
// 負の値は0として扱う。
func FormatHM(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	hours := ms / msPerHour
	minutes := (ms / msPerMinute) % 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// Mention はユーザーIDをチャット上のメンション表記に変換する。
func Mention(userID string) string {
	return "<@" + userID + ">"
}

// PanelMessage はボタンパネルに添える本文。
func PanelMessage() string {
	return "📌 **Time clock**: use the buttons below."
}

func ClockedIn() string {
	return "✅ Clocked in!"
}

func AlreadyClockedIn() string {
	return "⏳ You are already clocked in!"
}

// ClockedOut は退勤時の応答。今回のセッションの長さを含む。
func ClockedOut(elapsedMs int64) string {
	return fmt.Sprintf("✅ Clocked out. You worked **%s**.", FormatHM(elapsedMs))
}

func NotClockedIn() string {
	return "❌ You are not clocked in!"
}

func NotClockedInInfo() string {
	return "ℹ️ You are not clocked in."
}

func CurrentTime(elapsedMs int64) string {
	return fmt.Sprintf("🕒 Current session: **%s**", FormatHM(elapsedMs))
}

func PersonalTotal(totalMs int64) string {
	return fmt.Sprintf("📊 Your total time: **%s**", FormatHM(totalMs))
}

// Leaderboard は全ユーザーの累計を順位付きで表示する。totalsは並び替え済みであること。
func Leaderboard(totals []model.UserTotal) string {
	if len(totals) == 0 {
		return "📭 No time has been recorded yet."
	}

	var b strings.Builder
	b.WriteString("📜 **Total time, all users:**")
	for i, t := range totals {
		fmt.Fprintf(&b, "\n%d. %s — **%s**", i+1, Mention(t.UserID), FormatHM(t.ElapsedMs))
	}
	return b.String()
}

// ActiveUsers は現在出勤中のユーザー一覧を表示する。
func ActiveUsers(userIDs []string) string {
	if len(userIDs) == 0 {
		return "💤 Nobody is clocked in right now."
	}

	mentions := make([]string, len(userIDs))
	for i, id := range userIDs {
		mentions[i] = "• " + Mention(id)
	}
	return fmt.Sprintf("🟢 **Clocked in now (%d):**\n%s", len(userIDs), strings.Join(mentions, "\n"))
}

func ResetPrompt() string {
	return "⚠️ This deletes **all** sessions and totals for everyone and cannot be undone. Press the button to confirm."
}

func ResetDone() string {
	return "🗑️ All time-clock data has been reset."
}

func ResetNotConfirmed() string {
	return "⌛ This confirmation has expired or is not yours. Run the reset command again."
}

func InvalidInterval() string {
	return "⚠️ The clock went backwards, so this session cannot be recorded. Try again in a moment."
}

func RateLimited() string {
	return "🐢 Slow down a little and try again in a few seconds."
}

// GenericError は想定外のエラー時の応答。内部の詳細は含めない。
func GenericError() string {
	return "⚠️ Something went wrong. Please try again."
}

func ResetForbidden() string {
	return "🔒 Only server administrators can reset the time clock."
}
