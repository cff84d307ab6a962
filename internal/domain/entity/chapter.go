// Package entity 定义领域实体
package entity

// Chapter 章节实体
type Chapter struct {
	ID            string `json:"id" gorm:"type:uuid;primaryKey"`
	ProjectID     string `json:"project_id" gorm:"type:uuid;index;not null"`
	Title         string `json:"title" gorm:"type:text"`
	Content       string `json:"content" gorm:"type:text"`
	OrderIndex    int    `json:"order_index" gorm:"not null;default:0"`
	ChapterNumber *int   `json:"chapter_number,omitempty"`
}

// TableName 指定表名
func (Chapter) TableName() string {
	return "chapters"
}

// DisplayNumber 章节展示序号：优先使用 chapter_number，否则为 order_index+1
func (c *Chapter) DisplayNumber() int {
	if c.ChapterNumber != nil && *c.ChapterNumber > 0 {
		return *c.ChapterNumber
	}
	return c.OrderIndex + 1
}

// Matches 判断章节是否为第 n 章
func (c *Chapter) Matches(n int) bool {
	if c.OrderIndex == n-1 {
		return true
	}
	return c.ChapterNumber != nil && *c.ChapterNumber == n
}
