package entity

import (
	"strings"
	"time"
)

// TimelineEvent 时间线事件
type TimelineEvent struct {
	ID          string  `json:"id" gorm:"type:uuid;primaryKey"`
	ProjectID   string  `json:"project_id" gorm:"type:uuid;index;not null"`
	Name        string  `json:"name" gorm:"type:text"`
	Description string  `json:"description" gorm:"type:text"`
	DateTime    *string `json:"date_time,omitempty" gorm:"column:date_time;type:text"`
	LocationID  *string `json:"location_id,omitempty" gorm:"type:uuid"`
}

// TableName 指定表名
func (TimelineEvent) TableName() string {
	return "timeline_events"
}

// eventTimeLayouts 事件时间支持的格式
var eventTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// When 解析事件时间，缺失或无法解析时返回 false
func (e *TimelineEvent) When() (time.Time, bool) {
	if e.DateTime == nil {
		return time.Time{}, false
	}
	raw := strings.TrimSpace(*e.DateTime)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range eventTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// DisplayTime 展示用时间字符串
func (e *TimelineEvent) DisplayTime() string {
	if e.DateTime == nil || strings.TrimSpace(*e.DateTime) == "" {
		return "unknown time"
	}
	return *e.DateTime
}

// EventCharacterLink 事件与角色的关联
type EventCharacterLink struct {
	EventID     string `json:"event_id" gorm:"column:event_id;type:uuid;primaryKey"`
	CharacterID string `json:"character_id" gorm:"column:character_id;type:uuid;primaryKey"`
}

// TableName 指定表名
func (EventCharacterLink) TableName() string {
	return "timeline_event_characters"
}
