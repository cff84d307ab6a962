package entity

// Character 角色实体
type Character struct {
	ID        string `json:"id" gorm:"type:uuid;primaryKey"`
	ProjectID string `json:"project_id" gorm:"type:uuid;index;not null"`
	Name      string `json:"name" gorm:"type:text"`
	Role      string `json:"role" gorm:"type:text"`
	Traits    string `json:"traits" gorm:"type:text"`
	Backstory string `json:"backstory" gorm:"type:text"`
}

// TableName 指定表名
func (Character) TableName() string {
	return "characters"
}
