package entity

// ContextSelection 请求中选定的上下文元素
type ContextSelection struct {
	Characters []string `json:"characters,omitempty"`
	Locations  []string `json:"locations,omitempty"`
	Events     []string `json:"events,omitempty"`
}

// IsEmpty 三类均未选择时返回 true，此时使用项目全部上下文
func (s *ContextSelection) IsEmpty() bool {
	return s == nil || (len(s.Characters) == 0 && len(s.Locations) == 0 && len(s.Events) == 0)
}
