// Package daterange 提供按自然日粒度比较的日期与闭区间工具。
//
// 所有比较都基于日历日（YYYY-MM-DD），与时刻、时区偏移无关：
// 请求中的 "2024-03-31T23:30:00-05:00" 参与比较的是 2024-03-31。
package daterange

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jinzhu/now"
)

// DateLayout 日期的线上格式
const DateLayout = "2006-01-02"

// ErrInvalidDate 日期无法解析
var ErrInvalidDate = errors.New("日期格式无效")

var acceptedLayouts = []string{
	DateLayout,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02 15:04:05",
}

// Day 日历日，内部以 UTC 零点表示
type Day struct {
	t time.Time
}

// DayOf 取时刻在其自身时区下的日历日
func DayOf(t time.Time) Day {
	y, m, d := t.Date()
	return Day{t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// NewDay 由年月日构造日历日
func NewDay(year int, month time.Month, day int) Day {
	return Day{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDay 解析 ISO-8601 日期或时间戳，仅保留日期部分
func ParseDay(s string) (Day, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Day{}, ErrInvalidDate
	}
	for _, layout := range acceptedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return DayOf(t), nil
		}
	}
	return Day{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
}

// MustParseDay 仅用于常量与测试
func MustParseDay(s string) Day {
	d, err := ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Index 自 Unix 纪元起的天数
func (d Day) Index() int64 {
	return d.t.Unix() / 86400
}

// IsZero 是否为零值
func (d Day) IsZero() bool { return d.t.IsZero() }

// Before 是否早于 o
func (d Day) Before(o Day) bool { return d.Index() < o.Index() }

// After 是否晚于 o
func (d Day) After(o Day) bool { return d.Index() > o.Index() }

// AddDays 偏移 n 天
func (d Day) AddDays(n int) Day { return Day{t: d.t.AddDate(0, 0, n)} }

// String 返回 YYYY-MM-DD
func (d Day) String() string { return d.t.Format(DateLayout) }

// StartOfDay 该日在 loc 时区的 00:00:00
func (d Day) StartOfDay(loc *time.Location) time.Time {
	y, m, dd := d.t.Date()
	return now.With(time.Date(y, m, dd, 12, 0, 0, 0, loc)).BeginningOfDay()
}

// EndOfDay 该日在 loc 时区的 23:59:59.999999。
// 截断到微秒：timestamptz 精度为微秒，纳秒值会被四舍五入到次日零点。
func (d Day) EndOfDay(loc *time.Location) time.Time {
	y, m, dd := d.t.Date()
	return now.With(time.Date(y, m, dd, 12, 0, 0, 0, loc)).EndOfDay().Truncate(time.Microsecond)
}

// Range 闭区间 [Start, End]，两端均按日历日包含
type Range struct {
	Start Day
	End   Day
}

// NewRange 构造区间，不做合法性校验
func NewRange(start, end Day) Range {
	return Range{Start: start, End: end}
}

// Valid 结束日至少比开始日晚一天
func (r Range) Valid() bool {
	return r.End.Index() >= r.Start.Index()+1
}

// Days 区间包含的天数（含两端）
func (r Range) Days() int64 {
	return r.End.Index() - r.Start.Index() + 1
}

// Overlaps 闭区间相交判定：共享端点也视为重叠
func (r Range) Overlaps(o Range) bool {
	return o.Start.Index() <= r.End.Index() && o.End.Index() >= r.Start.Index()
}

// Contains 日期 d 是否落在区间内
func (r Range) Contains(d Day) bool {
	i := d.Index()
	return r.Start.Index() <= i && i <= r.End.Index()
}

// String 返回 "start..end"
func (r Range) String() string {
	return r.Start.String() + ".." + r.End.String()
}

// FindOverlap 线性扫描 candidates，返回第一个与 r 重叠的下标，没有则返回 -1。
// 阶段数量通常为个位数，线性扫描即可；规模增大时这里是引入区间树的位置。
func FindOverlap(r Range, candidates []Range) int {
	for i, c := range candidates {
		if r.Overlaps(c) {
			return i
		}
	}
	return -1
}
