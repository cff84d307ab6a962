// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"kalligram-api/internal/domain/entity"
)

// StoryReader 故事数据只读仓储
//
// ids 为 nil 表示读取项目下全部记录；非 nil 时只读取指定 ID（空切片返回空结果）。
type StoryReader interface {
	// Ping 连通性探测
	Ping(ctx context.Context) error

	// ListCharacters 获取角色
	ListCharacters(ctx context.Context, projectID string, ids []string) ([]*entity.Character, error)

	// ListLocations 获取地点
	ListLocations(ctx context.Context, projectID string, ids []string) ([]*entity.Location, error)

	// ListTimelineEvents 获取时间线事件
	ListTimelineEvents(ctx context.Context, projectID string, ids []string) ([]*entity.TimelineEvent, error)

	// ListEventCharacterLinks 获取事件与角色关联
	ListEventCharacterLinks(ctx context.Context, eventIDs []string) ([]*entity.EventCharacterLink, error)

	// ListChapters 获取项目章节，按 order_index 升序
	ListChapters(ctx context.Context, projectID string) ([]*entity.Chapter, error)

	// GetProfile 获取用户资料，不存在时返回 nil
	GetProfile(ctx context.Context, userID string) (*entity.Profile, error)
}
