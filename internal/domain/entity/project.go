package entity

// Project 项目实体，仅用于连通性探测
type Project struct {
	ID string `json:"id" gorm:"type:uuid;primaryKey"`
}

// TableName 指定表名
func (Project) TableName() string {
	return "projects"
}

// Profile 用户资料
type Profile struct {
	ID    string `json:"id" gorm:"type:uuid;primaryKey"`
	Name  string `json:"name" gorm:"type:text"`
	Email string `json:"email,omitempty" gorm:"type:text"`
}

// TableName 指定表名
func (Profile) TableName() string {
	return "profiles"
}
