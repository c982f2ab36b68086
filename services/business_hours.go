package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yut-kt/goholiday"
	"github.com/yut-kt/goholiday/nholidays/jp"

	"slack-review-assign/models"
)

const defaultTimezone = "Asia/Tokyo"

var jpHolidays = goholiday.New(jp.New())

// businessHours はチームの営業時間 (0:00からの分, end は含まない)
type businessHours struct {
	loc   *time.Location
	start int
	end   int
}

// teamBusinessHours はチーム設定から営業時間を作る
// 未設定や解釈できない設定なら false
func teamBusinessHours(config *models.ChannelConfig) (businessHours, bool) {
	if config == nil || config.BusinessHoursStart == "" || config.BusinessHoursEnd == "" {
		return businessHours{}, false
	}
	start, err := parseClock(config.BusinessHoursStart)
	if err != nil {
		return businessHours{}, false
	}
	end, err := parseClock(config.BusinessHoursEnd)
	if err != nil {
		return businessHours{}, false
	}
	return businessHours{loc: teamLocation(config.Timezone), start: start, end: end}, true
}

func teamLocation(name string) *time.Location {
	if name == "" {
		name = defaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// contains は土日を除き、t が営業時間内かを返す
// Asia/Tokyo のチームは日本の祝日も営業時間外
// start > end の場合は日付をまたぐ営業時間 (22:00-06:00 など)
func (h businessHours) contains(t time.Time) bool {
	local := t.In(h.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	if h.loc.String() == defaultTimezone && jpHolidays.IsHoliday(local) {
		return false
	}

	m := local.Hour()*60 + local.Minute()
	if h.start <= h.end {
		return h.start <= m && m < h.end
	}
	return m >= h.start || m < h.end
}

// IsWithinBusinessHours はリマインドを送ってよい時間帯かを判定する
// 営業時間が無い、または読めないチームは常に営業時間内として扱う
func IsWithinBusinessHours(config *models.ChannelConfig, t time.Time) bool {
	hours, ok := teamBusinessHours(config)
	if !ok {
		return true
	}
	return hours.contains(t)
}

// IsValidClock は "HH:MM" 形式の時刻かを返す
func IsValidClock(s string) bool {
	_, err := parseClock(s)
	return err == nil
}

// parseClock は "HH:MM" を0:00からの分に変換する
func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	hour, err := strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 || len(mm) != 2 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour*60 + minute, nil
}
