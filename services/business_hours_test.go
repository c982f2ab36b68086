package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slack-review-assign/models"
)

func teamHours(start, end, tz string) *models.ChannelConfig {
	return &models.ChannelConfig{
		WorkspaceID:        "acme",
		TeamID:             "web",
		BusinessHoursStart: start,
		BusinessHoursEnd:   end,
		Timezone:           tz,
		IsActive:           true,
	}
}

func TestIsWithinBusinessHours(t *testing.T) {
	// 2024-05-13 は月曜日
	monday := func(hour, min int) time.Time {
		return time.Date(2024, 5, 13, hour, min, 0, 0, time.UTC)
	}

	tests := []struct {
		name   string
		config *models.ChannelConfig
		at     time.Time
		want   bool
	}{
		{"チーム設定なし", nil, monday(3, 0), true},
		{"営業時間が未設定", teamHours("", "", "UTC"), monday(3, 0), true},
		{"開始時刻ちょうど", teamHours("10:00", "19:00", "UTC"), monday(10, 0), true},
		{"開始前", teamHours("10:00", "19:00", "UTC"), monday(9, 59), false},
		{"終了時刻は含まない", teamHours("10:00", "19:00", "UTC"), monday(19, 0), false},
		{"終了直前", teamHours("10:00", "19:00", "UTC"), monday(18, 59), true},
		// 01:00 UTC = 10:00 JST
		{"タイムゾーン省略時はJST", teamHours("10:00", "19:00", ""), monday(1, 0), true},
		{"JSTの営業時間後", teamHours("10:00", "19:00", "Asia/Tokyo"), monday(10, 0), false},
		// 13:00 UTC = 09:00 EDT
		{"ニューヨーク時間", teamHours("09:00", "17:00", "America/New_York"), monday(13, 0), true},
		{"不明なタイムゾーンはUTC", teamHours("09:00", "17:00", "Mars/Olympus"), monday(9, 0), true},
		{"夜間チームの深夜", teamHours("21:00", "05:00", "UTC"), monday(23, 45), true},
		{"夜間チームの早朝", teamHours("21:00", "05:00", "UTC"), monday(4, 59), true},
		{"夜間チームの日中", teamHours("21:00", "05:00", "UTC"), monday(12, 0), false},
		{"土曜日", teamHours("00:00", "23:59", "UTC"), time.Date(2024, 5, 18, 12, 0, 0, 0, time.UTC), false},
		{"日曜日", teamHours("00:00", "23:59", "UTC"), time.Date(2024, 5, 19, 12, 0, 0, 0, time.UTC), false},
		// 月曜 00:30 JST は日曜 15:30 UTC
		{"曜日は現地時間で判定", teamHours("00:00", "23:59", "Asia/Tokyo"), time.Date(2024, 5, 12, 15, 30, 0, 0, time.UTC), true},
		// 2024-05-03 (金) は憲法記念日
		{"日本の祝日は営業時間外", teamHours("10:00", "19:00", ""), time.Date(2024, 5, 3, 1, 0, 0, 0, time.UTC), false},
		{"祝日の前日は営業日", teamHours("10:00", "19:00", ""), time.Date(2024, 5, 2, 1, 0, 0, 0, time.UTC), true},
		{"日本以外のチームは日本の祝日に影響されない", teamHours("09:00", "17:00", "UTC"), time.Date(2024, 5, 3, 10, 0, 0, 0, time.UTC), true},
		{"読めない営業時間は常に営業時間内", teamHours("9am", "6pm", "UTC"), monday(3, 0), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsWithinBusinessHours(tt.config, tt.at))
		})
	}
}

func TestParseClock(t *testing.T) {
	valid := map[string]int{
		"00:00": 0,
		"09:30": 570,
		"9:05":  545,
		"23:59": 1439,
	}
	for in, want := range valid {
		got, err := parseClock(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "24:00", "12:60", "12", "12:5", "ab:cd", "-1:00"} {
		_, err := parseClock(in)
		assert.Error(t, err, in)
	}
}
