package supabase

import (
	"context"
	"fmt"

	"github.com/supabase-community/postgrest-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"kalligram-api/internal/domain/entity"
)

// StoryRepository 基于 PostgREST 的故事数据只读仓储
type StoryRepository struct {
	client *Client
}

// NewStoryRepository 创建故事仓储
func NewStoryRepository(client *Client) *StoryRepository {
	return &StoryRepository{client: client}
}

// Ping 探测 projects 表
func (r *StoryRepository) Ping(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "supabase.StoryRepository.Ping")
	defer span.End()

	q, err := r.client.from(ctx, "projects")
	if err != nil {
		return err
	}
	err = execute(ctx, func() error {
		var probe []entity.Project
		_, err := q.Select("id", "", false).Limit(1, "").ExecuteTo(&probe)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to probe projects: %w", err)
	}
	return nil
}

// listByProject 通用的按项目 + 可选 ID 查询
func listByProject[T any](ctx context.Context, r *StoryRepository, table, projectID string, ids []string, order string) ([]*T, error) {
	ctx, span := tracer.Start(ctx, "supabase.StoryRepository.list",
		trace.WithAttributes(
			attribute.String("table", table),
			attribute.String("project_id", projectID),
			attribute.Int("ids", len(ids)),
		))
	defer span.End()

	if ids != nil && len(ids) == 0 {
		return nil, nil
	}

	q, err := r.client.from(ctx, table)
	if err != nil {
		return nil, err
	}
	filter := q.Select("*", "", false).Eq("project_id", projectID)
	if ids != nil {
		filter = filter.In("id", ids)
	}
	if order != "" {
		filter = filter.Order(order, &postgrest.OrderOpts{Ascending: true})
	}

	var rows []*T
	err = execute(ctx, func() error {
		var fetched []*T
		if _, err := filter.ExecuteTo(&fetched); err != nil {
			return err
		}
		rows = fetched
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	return rows, nil
}

// ListCharacters 获取角色
func (r *StoryRepository) ListCharacters(ctx context.Context, projectID string, ids []string) ([]*entity.Character, error) {
	return listByProject[entity.Character](ctx, r, "characters", projectID, ids, "name")
}

// ListLocations 获取地点
func (r *StoryRepository) ListLocations(ctx context.Context, projectID string, ids []string) ([]*entity.Location, error) {
	return listByProject[entity.Location](ctx, r, "locations", projectID, ids, "name")
}

// ListTimelineEvents 获取时间线事件
func (r *StoryRepository) ListTimelineEvents(ctx context.Context, projectID string, ids []string) ([]*entity.TimelineEvent, error) {
	return listByProject[entity.TimelineEvent](ctx, r, "timeline_events", projectID, ids, "")
}

// ListChapters 获取项目章节
func (r *StoryRepository) ListChapters(ctx context.Context, projectID string) ([]*entity.Chapter, error) {
	return listByProject[entity.Chapter](ctx, r, "chapters", projectID, nil, "order_index")
}

// ListEventCharacterLinks 获取事件与角色关联
func (r *StoryRepository) ListEventCharacterLinks(ctx context.Context, eventIDs []string) ([]*entity.EventCharacterLink, error) {
	ctx, span := tracer.Start(ctx, "supabase.StoryRepository.ListEventCharacterLinks",
		trace.WithAttributes(attribute.Int("events", len(eventIDs))))
	defer span.End()

	if len(eventIDs) == 0 {
		return nil, nil
	}

	q, err := r.client.from(ctx, "timeline_event_characters")
	if err != nil {
		return nil, err
	}
	var links []*entity.EventCharacterLink
	err = execute(ctx, func() error {
		var fetched []*entity.EventCharacterLink
		if _, err := q.Select("event_id,character_id", "", false).In("event_id", eventIDs).ExecuteTo(&fetched); err != nil {
			return err
		}
		links = fetched
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list event characters: %w", err)
	}
	return links, nil
}

// GetProfile 获取用户资料
func (r *StoryRepository) GetProfile(ctx context.Context, userID string) (*entity.Profile, error) {
	ctx, span := tracer.Start(ctx, "supabase.StoryRepository.GetProfile")
	defer span.End()

	q, err := r.client.from(ctx, "profiles")
	if err != nil {
		return nil, err
	}
	var profiles []*entity.Profile
	err = execute(ctx, func() error {
		var fetched []*entity.Profile
		if _, err := q.Select("id,name", "", false).Eq("id", userID).Limit(1, "").ExecuteTo(&fetched); err != nil {
			return err
		}
		profiles = fetched
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	if len(profiles) == 0 {
		return nil, nil
	}
	return profiles[0], nil
}
