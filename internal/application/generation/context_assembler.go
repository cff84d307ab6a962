package generation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"kalligram-api/internal/domain/entity"
	"kalligram-api/internal/domain/repository"
	"kalligram-api/pkg/errors"
	"kalligram-api/pkg/logger"
	"kalligram-api/pkg/metrics"
	"kalligram-api/pkg/tracer"
)

// StoryStore 提供故事数据只读仓储
type StoryStore interface {
	Reader(ctx context.Context) (repository.StoryReader, error)
}

// 字段截断长度（字符数）
const (
	traitsLimit      = 200
	backstoryLimit   = 300
	descriptionLimit = 200
)

// ContextAssembler 组装项目上下文文本
type ContextAssembler struct {
	store   StoryStore
	timeout time.Duration
}

// NewContextAssembler 创建上下文组装器，timeout 为 0 时不限制读取时长
func NewContextAssembler(store StoryStore, timeout time.Duration) *ContextAssembler {
	return &ContextAssembler{store: store, timeout: timeout}
}

// projectContext 一次请求读取到的上下文数据
type projectContext struct {
	characters []*entity.Character
	locations  []*entity.Location
	events     []*entity.TimelineEvent
	links      []*entity.EventCharacterLink
}

// Assemble 读取并格式化项目上下文
//
// 数据源不可用时返回以 "Error fetching project context: " 开头的占位文本，不返回错误。
func (a *ContextAssembler) Assemble(ctx context.Context, projectID string, selection *entity.ContextSelection) string {
	ctx, span := tracer.Start(ctx, "ContextAssembler.Assemble")
	defer span.End()
	span.SetAttributes(attribute.String("project_id", projectID))

	ctx, cancel := withQueryTimeout(ctx, a.timeout)
	defer cancel()

	reader, err := a.store.Reader(ctx)
	if err == nil {
		err = reader.Ping(ctx)
	}
	if err != nil {
		tracer.RecordError(span, err)
		metrics.ContextFetchFailures.WithLabelValues("context").Inc()
		logger.Error(ctx, "failed to fetch project context", err)
		return "Error fetching project context: " + errorReason(err)
	}

	var data projectContext
	load := func(ctx context.Context) error {
		data = a.load(ctx, reader, projectID, selection)
		return nil
	}
	if tx, ok := reader.(repository.Transactor); ok {
		if err := tx.WithTransaction(ctx, load); err != nil {
			logger.Warn(ctx, "snapshot transaction failed, reading without it", "error", err)
			_ = load(ctx)
		}
	} else {
		_ = load(ctx)
	}
	if err := ctx.Err(); err != nil {
		tracer.RecordError(span, err)
		metrics.ContextFetchFailures.WithLabelValues("context").Inc()
		logger.Error(ctx, "project context fetch timed out", err)
		return "Error fetching project context: " + errorReason(err)
	}

	logger.Debug(ctx, "project context loaded",
		"characters", len(data.characters),
		"locations", len(data.locations),
		"events", len(data.events),
		"links", len(data.links),
	)
	return formatContext(&data)
}

func (a *ContextAssembler) load(ctx context.Context, reader repository.StoryReader, projectID string, selection *entity.ContextSelection) projectContext {
	var characterIDs, locationIDs, eventIDs []string
	if !selection.IsEmpty() {
		characterIDs = nonNil(selection.Characters)
		locationIDs = nonNil(selection.Locations)
		eventIDs = nonNil(selection.Events)
	}

	var data projectContext
	var err error
	if data.characters, err = reader.ListCharacters(ctx, projectID, characterIDs); err != nil {
		a.tableFailed(ctx, "characters", err)
		data.characters = nil
	}
	if data.locations, err = reader.ListLocations(ctx, projectID, locationIDs); err != nil {
		a.tableFailed(ctx, "locations", err)
		data.locations = nil
	}
	if data.events, err = reader.ListTimelineEvents(ctx, projectID, eventIDs); err != nil {
		a.tableFailed(ctx, "timeline_events", err)
		data.events = nil
	}

	if len(data.events) > 0 {
		ids := make([]string, 0, len(data.events))
		for _, e := range data.events {
			ids = append(ids, e.ID)
		}
		if data.links, err = reader.ListEventCharacterLinks(ctx, ids); err != nil {
			logger.Warn(ctx, "failed to load event character links", "error", err)
			data.links = nil
		}
	}
	return data
}

func (a *ContextAssembler) tableFailed(ctx context.Context, table string, err error) {
	metrics.ContextFetchFailures.WithLabelValues(table).Inc()
	logger.Error(ctx, "context query failed", err, "table", table)
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func formatContext(data *projectContext) string {
	linked := make(map[string]bool, len(data.links))
	for _, l := range data.links {
		linked[l.EventID+"|"+l.CharacterID] = true
	}

	var b strings.Builder
	b.WriteString("Project Context:\n\n")

	b.WriteString("Characters:\n")
	if len(data.characters) == 0 {
		b.WriteString("No characters selected.\n\n")
	}
	for _, c := range data.characters {
		fmt.Fprintf(&b, "Character: %s\n", c.Name)
		fmt.Fprintf(&b, "  Role: %s\n", orUnspecified(c.Role))
		if c.Traits != "" {
			fmt.Fprintf(&b, "  Traits: %s\n", TruncateRunes(c.Traits, traitsLimit))
		}
		if c.Backstory != "" {
			fmt.Fprintf(&b, "  Backstory: %s\n", TruncateRunes(c.Backstory, backstoryLimit))
		}
		var appears []*entity.TimelineEvent
		for _, e := range data.events {
			if linked[e.ID+"|"+c.ID] {
				appears = append(appears, e)
			}
		}
		if len(appears) > 0 {
			b.WriteString("  Appears in events:\n")
			for _, e := range appears {
				fmt.Fprintf(&b, "    - %s (%s)\n", e.Name, e.DisplayTime())
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("Locations:\n")
	if len(data.locations) == 0 {
		b.WriteString("No locations selected.\n\n")
	}
	for _, l := range data.locations {
		fmt.Fprintf(&b, "Location: %s\n", l.Name)
		fmt.Fprintf(&b, "  Type: %s\n", orUnspecified(l.Type))
		if l.Description != "" {
			fmt.Fprintf(&b, "  Description: %s\n", TruncateRunes(l.Description, descriptionLimit))
		}
		if l.KeyFeatures != "" {
			fmt.Fprintf(&b, "  Key Features: %s\n", TruncateRunes(l.KeyFeatures, descriptionLimit))
		}
		var here []*entity.TimelineEvent
		for _, e := range data.events {
			if e.LocationID != nil && *e.LocationID == l.ID {
				here = append(here, e)
			}
		}
		if len(here) > 0 {
			b.WriteString("  Events at this location:\n")
			for _, e := range here {
				fmt.Fprintf(&b, "    - %s (%s)\n", e.Name, e.DisplayTime())
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("Timeline Events:\n")
	if len(data.events) == 0 {
		b.WriteString("No timeline events selected.\n")
	}
	for _, e := range sortEvents(data.events) {
		fmt.Fprintf(&b, "Event: %s\n", e.Name)
		if e.DateTime != nil && *e.DateTime != "" {
			fmt.Fprintf(&b, "  Time: %s\n", *e.DateTime)
		}
		if e.Description != "" {
			fmt.Fprintf(&b, "  Description: %s\n", TruncateRunes(e.Description, descriptionLimit))
		}
		if e.LocationID != nil {
			for _, l := range data.locations {
				if l.ID == *e.LocationID {
					fmt.Fprintf(&b, "  Location: %s\n", l.Name)
					break
				}
			}
		}
		var involved []string
		for _, c := range data.characters {
			if linked[e.ID+"|"+c.ID] {
				involved = append(involved, c.Name)
			}
		}
		if len(involved) > 0 {
			fmt.Fprintf(&b, "  Characters involved: %s\n", strings.Join(involved, ", "))
		}
		b.WriteString("\n")
	}

	return b.String()
}

// sortEvents 按时间升序，无时间或无法解析的排在最后，保持原有相对顺序
func sortEvents(events []*entity.TimelineEvent) []*entity.TimelineEvent {
	sorted := make([]*entity.TimelineEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, okI := sorted[i].When()
		tj, okJ := sorted[j].When()
		if !okI || !okJ {
			return okI && !okJ
		}
		return ti.Before(tj)
	})
	return sorted
}

func orUnspecified(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unspecified"
	}
	return s
}

// errorReason 取面向日志与占位文本的错误描述
func errorReason(err error) string {
	if errors.IsAppError(err) {
		return errors.AsAppError(err).Message
	}
	return err.Error()
}

// withQueryTimeout 为一次数据源读取设置时限
func withQueryTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
