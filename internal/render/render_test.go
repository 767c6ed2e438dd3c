package render

import (
	"strings"
	"testing"

	"github.com/hitoshi/timeclock/internal/model"
)

// TestFormatHM は時間と分が切り捨てで計算されることを検証する。
func TestFormatHM(t *testing.T) {
	tests := []struct {
		ms   int64
		want string
	}{
		{0, "0h 0m"},
		{59_999, "0h 0m"},
		{60_000, "0h 1m"},
		{3_661_000, "1h 1m"},
		{5_999_999, "1h 39m"},
		{86_399_999, "23h 59m"},
		{90_000_000, "25h 0m"},
		{-1_000, "0h 0m"},
	}

	for _, tt := range tests {
		if got := FormatHM(tt.ms); got != tt.want {
			t.Errorf("FormatHM(%d) = %q, want %q", tt.ms, got, tt.want)
		}
	}
}

// TestLeaderboard は順位とメンションと時間が並び順どおりに表示されることを検証する。
func TestLeaderboard(t *testing.T) {
	got := Leaderboard([]model.UserTotal{
		{UserID: "111", ElapsedMs: 7_200_000},
		{UserID: "222", ElapsedMs: 3_660_000},
	})

	want := "📜 **Total time, all users:**\n" +
		"1. <@111> — **2h 0m**\n" +
		"2. <@222> — **1h 1m**"
	if got != want {
		t.Errorf("Leaderboard =\n%s\nwant\n%s", got, want)
	}
}

func TestLeaderboard_Empty(t *testing.T) {
	if got := Leaderboard(nil); !strings.Contains(got, "No time has been recorded") {
		t.Errorf("Leaderboard(nil) = %q", got)
	}
}

func TestActiveUsers(t *testing.T) {
	got := ActiveUsers([]string{"1", "2"})
	if !strings.HasPrefix(got, "🟢 **Clocked in now (2):**") {
		t.Errorf("ActiveUsers header = %q", got)
	}
	if !strings.Contains(got, "• <@1>\n• <@2>") {
		t.Errorf("ActiveUsers body = %q", got)
	}

	if got := ActiveUsers(nil); !strings.Contains(got, "Nobody") {
		t.Errorf("ActiveUsers(nil) = %q", got)
	}
}

func TestClockedOut_IncludesFormattedDuration(t *testing.T) {
	if got := ClockedOut(5_999_999); !strings.Contains(got, "**1h 39m**") {
		t.Errorf("ClockedOut = %q", got)
	}
}
