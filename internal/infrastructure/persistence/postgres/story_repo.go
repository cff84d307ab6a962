package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"kalligram-api/internal/domain/entity"
)

// StoryRepository 故事数据只读仓储实现
type StoryRepository struct {
	client *Client
	tx     *TxManager
}

// NewStoryRepository 创建故事仓储
func NewStoryRepository(client *Client) *StoryRepository {
	return &StoryRepository{client: client, tx: NewTxManager(client)}
}

// WithTransaction 多表读取共享同一快照
func (r *StoryRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.tx.WithTransaction(ctx, fn)
}

// Ping 探测 projects 表
func (r *StoryRepository) Ping(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "postgres.StoryRepository.Ping")
	defer span.End()

	var probe []entity.Project
	if err := getDB(ctx, r.client.db).Select("id").Limit(1).Find(&probe).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to probe projects: %w", err)
	}
	return nil
}

// scopeByIDs ids 为 nil 时不过滤
func scopeByIDs(ids []string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if ids == nil {
			return db
		}
		return db.Where("id = ANY(?)", pq.Array(ids))
	}
}

// ListCharacters 获取角色
func (r *StoryRepository) ListCharacters(ctx context.Context, projectID string, ids []string) ([]*entity.Character, error) {
	ctx, span := tracer.Start(ctx, "postgres.StoryRepository.ListCharacters",
		trace.WithAttributes(attribute.String("project_id", projectID), attribute.Int("ids", len(ids))))
	defer span.End()

	if ids != nil && len(ids) == 0 {
		return nil, nil
	}

	var characters []*entity.Character
	if err := getDB(ctx, r.client.db).
		Where("project_id = ?", projectID).
		Scopes(scopeByIDs(ids)).
		Order("name ASC").
		Find(&characters).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list characters: %w", err)
	}
	return characters, nil
}

// ListLocations 获取地点
func (r *StoryRepository) ListLocations(ctx context.Context, projectID string, ids []string) ([]*entity.Location, error) {
	ctx, span := tracer.Start(ctx, "postgres.StoryRepository.ListLocations",
		trace.WithAttributes(attribute.String("project_id", projectID), attribute.Int("ids", len(ids))))
	defer span.End()

	if ids != nil && len(ids) == 0 {
		return nil, nil
	}

	var locations []*entity.Location
	if err := getDB(ctx, r.client.db).
		Where("project_id = ?", projectID).
		Scopes(scopeByIDs(ids)).
		Order("name ASC").
		Find(&locations).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	return locations, nil
}

// ListTimelineEvents 获取时间线事件
func (r *StoryRepository) ListTimelineEvents(ctx context.Context, projectID string, ids []string) ([]*entity.TimelineEvent, error) {
	ctx, span := tracer.Start(ctx, "postgres.StoryRepository.ListTimelineEvents",
		trace.WithAttributes(attribute.String("project_id", projectID), attribute.Int("ids", len(ids))))
	defer span.End()

	if ids != nil && len(ids) == 0 {
		return nil, nil
	}

	var events []*entity.TimelineEvent
	if err := getDB(ctx, r.client.db).
		Where("project_id = ?", projectID).
		Scopes(scopeByIDs(ids)).
		Find(&events).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list timeline events: %w", err)
	}
	return events, nil
}

// ListEventCharacterLinks 获取事件与角色关联
func (r *StoryRepository) ListEventCharacterLinks(ctx context.Context, eventIDs []string) ([]*entity.EventCharacterLink, error) {
	ctx, span := tracer.Start(ctx, "postgres.StoryRepository.ListEventCharacterLinks",
		trace.WithAttributes(attribute.Int("events", len(eventIDs))))
	defer span.End()

	if len(eventIDs) == 0 {
		return nil, nil
	}

	var links []*entity.EventCharacterLink
	if err := getDB(ctx, r.client.db).
		Where("event_id = ANY(?)", pq.Array(eventIDs)).
		Find(&links).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list event characters: %w", err)
	}
	return links, nil
}

// ListChapters 获取项目章节
func (r *StoryRepository) ListChapters(ctx context.Context, projectID string) ([]*entity.Chapter, error) {
	ctx, span := tracer.Start(ctx, "postgres.StoryRepository.ListChapters",
		trace.WithAttributes(attribute.String("project_id", projectID)))
	defer span.End()

	var chapters []*entity.Chapter
	if err := getDB(ctx, r.client.db).
		Where("project_id = ?", projectID).
		Order("order_index ASC").
		Find(&chapters).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list chapters: %w", err)
	}
	return chapters, nil
}

// GetProfile 获取用户资料
func (r *StoryRepository) GetProfile(ctx context.Context, userID string) (*entity.Profile, error) {
	ctx, span := tracer.Start(ctx, "postgres.StoryRepository.GetProfile")
	defer span.End()

	var profile entity.Profile
	if err := getDB(ctx, r.client.db).Select("id", "name").First(&profile, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &profile, nil
}
