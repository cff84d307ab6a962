package generation

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"kalligram-api/internal/domain/entity"
	"kalligram-api/pkg/logger"
	"kalligram-api/pkg/metrics"
	"kalligram-api/pkg/tracer"
)

const (
	previousSummaryLimit = 500
	earlierSummaryLimit  = 200

	noChaptersMarker = "No previous chapters found."
)

var chapterPattern = regexp.MustCompile(`(?i)chapter\s+(\d+)`)

// ChapterHistory 组装已有章节文本
type ChapterHistory struct {
	store   StoryStore
	timeout time.Duration
}

// NewChapterHistory 创建章节历史组装器
func NewChapterHistory(store StoryStore, timeout time.Duration) *ChapterHistory {
	return &ChapterHistory{store: store, timeout: timeout}
}

// TargetChapter 从提示词中解析 "chapter N"，未命中时返回 0
func TargetChapter(prompt string) int {
	m := chapterPattern.FindStringSubmatch(prompt)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

// Retrieve 返回章节历史文本，结果永不为空
func (h *ChapterHistory) Retrieve(ctx context.Context, projectID, prompt string) string {
	ctx, span := tracer.Start(ctx, "ChapterHistory.Retrieve")
	defer span.End()
	span.SetAttributes(attribute.String("project_id", projectID))

	ctx, cancel := withQueryTimeout(ctx, h.timeout)
	defer cancel()

	reader, err := h.store.Reader(ctx)
	if err == nil {
		err = reader.Ping(ctx)
	}
	var chapters []*entity.Chapter
	if err == nil {
		chapters, err = reader.ListChapters(ctx, projectID)
	}
	if err != nil {
		tracer.RecordError(span, err)
		metrics.ContextFetchFailures.WithLabelValues("chapters").Inc()
		logger.Error(ctx, "failed to fetch previous chapters", err)
		return "Error fetching previous chapters: " + errorReason(err)
	}

	if len(chapters) == 0 {
		return noChaptersMarker
	}

	target := TargetChapter(prompt)
	logger.Debug(ctx, "chapters loaded", "count", len(chapters), "target_chapter", target)
	return formatChapters(chapters, target)
}

func formatChapters(chapters []*entity.Chapter, target int) string {
	var b strings.Builder
	b.WriteString("PREVIOUS CHAPTERS:\n\n")

	if target == 0 {
		last := len(chapters) - 1
		for i, c := range chapters {
			writeHeading(&b, c)
			if i == last {
				b.WriteString(c.Content)
			} else {
				b.WriteString(TruncateRunes(c.Content, previousSummaryLimit))
			}
			b.WriteString("\n\n")
		}
		return b.String()
	}

	idx := -1
	for i, c := range chapters {
		if c.Matches(target) {
			idx = i
			break
		}
	}

	if idx < 0 {
		fmt.Fprintf(&b, "Warning: Chapter %d not found. Here are all available chapters:\n\n", target)
		for _, c := range chapters {
			writeHeading(&b, c)
			b.WriteString(TruncateRunes(c.Content, previousSummaryLimit))
			b.WriteString("\n\n")
		}
		return b.String()
	}

	current := chapters[idx]
	fmt.Fprintf(&b, "CURRENT CHAPTER TO CONTINUE FROM (Chapter %d):\n", target)
	fmt.Fprintf(&b, "Title: %s\n%s\n\n", titleOf(current), current.Content)

	if idx > 0 {
		prev := chapters[idx-1]
		fmt.Fprintf(&b, "PREVIOUS CHAPTER (Chapter %d):\n", prev.DisplayNumber())
		fmt.Fprintf(&b, "Title: %s\n%s\n\n", titleOf(prev), TruncateRunes(prev.Content, previousSummaryLimit))
	}

	if idx > 1 {
		b.WriteString("EARLIER CHAPTERS SUMMARY:\n")
		for _, c := range chapters[:idx-1] {
			fmt.Fprintf(&b, "Chapter %d: %s - %s\n",
				c.DisplayNumber(), titleOf(c), TruncateRunes(SingleLine(c.Content), earlierSummaryLimit))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func writeHeading(b *strings.Builder, c *entity.Chapter) {
	fmt.Fprintf(b, "Chapter %d: %s\n", c.DisplayNumber(), titleOf(c))
}

func titleOf(c *entity.Chapter) string {
	if strings.TrimSpace(c.Title) == "" {
		return "Untitled"
	}
	return c.Title
}
