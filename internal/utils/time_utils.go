package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var durationUnits = []struct {
	suffix string
	unit   time.Duration
}{
	// "ms" 必须排在 "m" 和 "s" 之前
	{"ms", time.Millisecond},
	{"s", time.Second},
	{"m", time.Minute},
	{"h", time.Hour},
	{"d", 24 * time.Hour},
}

// ParseDuration 解析配置文件中的时间字符串，如 "25s"、"500ms"、"2d"
// 空字符串和 "0" 解析为 0
func ParseDuration(timeString string) (time.Duration, error) {
	timeString = strings.ToLower(strings.TrimSpace(timeString))
	if timeString == "" || timeString == "0" {
		return 0, nil
	}
	for _, u := range durationUnits {
		number, found := strings.CutSuffix(timeString, u.suffix)
		if !found {
			continue
		}
		n, err := strconv.Atoi(number)
		if err != nil {
			break
		}
		if n < 0 {
			return 0, fmt.Errorf("negative duration: %s", timeString)
		}
		return time.Duration(n) * u.unit, nil
	}
	d, err := time.ParseDuration(timeString)
	if err != nil {
		return 0, fmt.Errorf("invalid time format: %s", timeString)
	}
	return d, nil
}

// MustParseDuration 解析失败时返回 fallback
func MustParseDuration(timeString string, fallback time.Duration) time.Duration {
	d, err := ParseDuration(timeString)
	if err != nil {
		return fallback
	}
	return d
}
