// Package model はドメインモデルを定義する。
package model

import "time"

// Session はユーザーが出勤（clock in）してから退勤（clock out）するまでの1区間を表す。
// EndedAtがnilの間は稼働中のセッションとして扱う。
type Session struct {
	ID        int64 // 追記型ストアの行ID。メモリ・ファイルストアでは0
	UserID    string
	StartedAt time.Time
	EndedAt   *time.Time
}

// IsActive はセッションが稼働中（未終了）かどうかを返す。
func (s *Session) IsActive() bool {
	return s.EndedAt == nil
}

// Elapsed はセッションの経過時間を返す。
// 終了済みの場合はEndedAt、稼働中の場合はnowまでの時間を返す。
func (s *Session) Elapsed(now time.Time) time.Duration {
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	return end.Sub(s.StartedAt)
}

// UserTotal はユーザーごとの累計稼働時間を表す。
// 稼働中セッションがある場合は集計時点までの経過時間を含む。
type UserTotal struct {
	UserID    string
	ElapsedMs int64
}

// Millis はtime.Durationをミリ秒に変換する。1ミリ秒未満は切り捨てる。
func Millis(d time.Duration) int64 {
	return d.Milliseconds()
}
