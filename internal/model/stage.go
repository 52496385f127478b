package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"capstone-hub/backend/pkg/daterange"
)

// Stage 学年阶段表 — 对应 stages
//
// start_date / end_date 以 UTC 的当日零点 / 当日末尾存储，比较时只看日历日。
// 列类型不在标签中指定：PostgreSQL 由 SQL 迁移建为 timestamptz，SQLite 由 AutoMigrate 建为 datetime。
// is_active 不设数据库默认值：GORM 会把 false 当作零值跳过，导致插入默认值。
type Stage struct {
	StageID     string    `gorm:"type:uuid;primaryKey"                                    json:"stageId"`
	Name        string    `gorm:"type:varchar(100);not null"                              json:"name"`
	Description string    `gorm:"type:varchar(500);not null;default:''"                   json:"description"`
	Percentage  string    `gorm:"type:text;not null"                                      json:"percentage"`
	SortOrder   int       `gorm:"column:sort_order;not null;uniqueIndex:uq_stages_sort_order" json:"order"`
	StartDate   time.Time `gorm:"not null;index:idx_stages_dates"                         json:"startDate"`
	EndDate     time.Time `gorm:"not null;index:idx_stages_dates"                         json:"endDate"`
	IsActive    bool      `gorm:"not null"                                                json:"isActive"`
	VersionedModel
}

// TableName 指定表名
func (Stage) TableName() string { return "stages" }

// BeforeCreate 未指定主键时生成 UUID（SQLite 无 gen_random_uuid）
func (s *Stage) BeforeCreate(_ *gorm.DB) error {
	if s.StageID == "" {
		s.StageID = uuid.New().String()
	}
	return nil
}

// Range 阶段的日历日闭区间
func (s *Stage) Range() daterange.Range {
	return daterange.NewRange(daterange.DayOf(s.StartDate.UTC()), daterange.DayOf(s.EndDate.UTC()))
}

// IsCurrentAt 启用且 now 所在日历日（UTC）落在区间内
func (s *Stage) IsCurrentAt(now time.Time) bool {
	return s.IsActive && s.Range().Contains(daterange.DayOf(now.UTC()))
}

// IsCompletedAt now 所在日历日已晚于结束日
func (s *Stage) IsCompletedAt(now time.Time) bool {
	return daterange.DayOf(now.UTC()).After(s.Range().End)
}

// IsUpcomingAt now 所在日历日早于开始日
func (s *Stage) IsUpcomingAt(now time.Time) bool {
	return daterange.DayOf(now.UTC()).Before(s.Range().Start)
}
