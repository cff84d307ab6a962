// Package repotest 提供测试用的内存 StoryReader
package repotest

import (
	"context"
	"sort"
	"sync"

	"kalligram-api/internal/domain/entity"
	"kalligram-api/internal/domain/repository"
)

// FakeReader 内存实现的 StoryReader
//
// Errors 按方法名注入错误，例如 Errors["ListCharacters"]；
// Block 中的方法会阻塞到 ctx 结束。
type FakeReader struct {
	Characters []*entity.Character
	Locations  []*entity.Location
	Events     []*entity.TimelineEvent
	Links      []*entity.EventCharacterLink
	Chapters   []*entity.Chapter
	Profiles   map[string]*entity.Profile
	Errors     map[string]error
	Block      map[string]bool

	mu    sync.Mutex
	calls map[string]int
}

var _ repository.StoryReader = (*FakeReader)(nil)

// Calls 返回方法调用次数
func (f *FakeReader) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *FakeReader) record(ctx context.Context, method string) error {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[method]++
	block, err := f.Block[method], f.Errors[method]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *FakeReader) Ping(ctx context.Context) error {
	return f.record(ctx, "Ping")
}

func (f *FakeReader) ListCharacters(ctx context.Context, projectID string, ids []string) ([]*entity.Character, error) {
	if err := f.record(ctx, "ListCharacters"); err != nil {
		return nil, err
	}
	return filter(f.Characters, projectID, ids, func(c *entity.Character) (string, string) { return c.ProjectID, c.ID }), nil
}

func (f *FakeReader) ListLocations(ctx context.Context, projectID string, ids []string) ([]*entity.Location, error) {
	if err := f.record(ctx, "ListLocations"); err != nil {
		return nil, err
	}
	return filter(f.Locations, projectID, ids, func(l *entity.Location) (string, string) { return l.ProjectID, l.ID }), nil
}

func (f *FakeReader) ListTimelineEvents(ctx context.Context, projectID string, ids []string) ([]*entity.TimelineEvent, error) {
	if err := f.record(ctx, "ListTimelineEvents"); err != nil {
		return nil, err
	}
	return filter(f.Events, projectID, ids, func(e *entity.TimelineEvent) (string, string) { return e.ProjectID, e.ID }), nil
}

func (f *FakeReader) ListEventCharacterLinks(ctx context.Context, eventIDs []string) ([]*entity.EventCharacterLink, error) {
	if err := f.record(ctx, "ListEventCharacterLinks"); err != nil {
		return nil, err
	}
	wanted := toSet(eventIDs)
	var out []*entity.EventCharacterLink
	for _, l := range f.Links {
		if wanted[l.EventID] {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *FakeReader) ListChapters(ctx context.Context, projectID string) ([]*entity.Chapter, error) {
	if err := f.record(ctx, "ListChapters"); err != nil {
		return nil, err
	}
	var out []*entity.Chapter
	for _, c := range f.Chapters {
		if c.ProjectID == projectID {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out, nil
}

func (f *FakeReader) GetProfile(ctx context.Context, userID string) (*entity.Profile, error) {
	if err := f.record(ctx, "GetProfile"); err != nil {
		return nil, err
	}
	return f.Profiles[userID], nil
}

// Store 固定返回同一个 reader（或错误）的数据源
type Store struct {
	Backend repository.StoryReader
	Err     error
}

// Reader 实现 StoryStore 接口
func (s *Store) Reader(ctx context.Context) (repository.StoryReader, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Backend, nil
}

func filter[T any](rows []T, projectID string, ids []string, key func(T) (string, string)) []T {
	wanted := toSet(ids)
	var out []T
	for _, row := range rows {
		project, id := key(row)
		if project != projectID {
			continue
		}
		if ids != nil && !wanted[id] {
			continue
		}
		out = append(out, row)
	}
	return out
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
