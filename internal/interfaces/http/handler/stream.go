package handler

import (
	"io"

	"github.com/gin-gonic/gin"

	"kalligram-api/internal/interfaces/http/dto"
)

// streamResult 以 SSE 事件下发已完成的生成结果：metadata、content、done
func streamResult(c *gin.Context, resp *dto.GenerateTextResponse) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	events := []struct {
		name string
		data any
	}{
		{"metadata", gin.H{
			"model":                    resp.Model,
			"userName":                 resp.UserName,
			"mode":                     resp.Mode,
			"requestedWords":           resp.RequestedWords,
			"contextProvided":          resp.ContextProvided,
			"previousChaptersProvided": resp.PreviousChaptersProvided,
		}},
		{"content", gin.H{"text": resp.Text}},
		{"done", resp},
	}

	step := 0
	c.Stream(func(w io.Writer) bool {
		if c.Request.Context().Err() != nil {
			return false
		}
		ev := events[step]
		c.SSEvent(ev.name, ev.data)
		step++
		return step < len(events)
	})
}
