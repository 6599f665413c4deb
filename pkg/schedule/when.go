package schedule

import "time"

// dateLayouts 可接受的日期格式
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// ParseWhen 根据模型给出的 type 和对应字段构造 When
// 未知类型视为 NoSchedule，无法解析的日期得到零值时间
func ParseWhen(typ, date string, delaySeconds int64, cron string) When {
	switch typ {
	case "scheduled":
		return ScheduledAt{Time: parseDate(date)}
	case "delayed":
		return DelayedBy{Seconds: delaySeconds}
	case "cron":
		return Cron{Expr: cron}
	default:
		return NoSchedule{}
	}
}

// Kind 返回 When 的类型名
func Kind(w When) string {
	if w == nil {
		return NoSchedule{}.kind()
	}
	return w.kind()
}

func parseDate(s string) time.Time {
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t
		}
	}
	return time.Time{}
}
