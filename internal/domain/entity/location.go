package entity

// Location 地点实体
type Location struct {
	ID          string `json:"id" gorm:"type:uuid;primaryKey"`
	ProjectID   string `json:"project_id" gorm:"type:uuid;index;not null"`
	Name        string `json:"name" gorm:"type:text"`
	Type        string `json:"type" gorm:"type:text"`
	Description string `json:"description" gorm:"type:text"`
	KeyFeatures string `json:"key_features" gorm:"type:text"`
}

// TableName 指定表名
func (Location) TableName() string {
	return "locations"
}
