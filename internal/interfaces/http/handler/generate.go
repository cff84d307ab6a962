// Package handler 提供 HTTP 请求处理器
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"kalligram-api/internal/application/generation"
	"kalligram-api/internal/infrastructure/llm"
	"kalligram-api/internal/interfaces/http/dto"
	"kalligram-api/internal/interfaces/http/middleware"
	"kalligram-api/pkg/errors"
)

// TextGenerator 文本生成服务
type TextGenerator interface {
	Generate(ctx context.Context, req *generation.Request) (*generation.Result, error)
}

// GenerateHandler 文本生成处理器
type GenerateHandler struct {
	service   TextGenerator
	withStack bool
}

// NewGenerateHandler 创建文本生成处理器
func NewGenerateHandler(service TextGenerator, withStack bool) *GenerateHandler {
	return &GenerateHandler{
		service:   service,
		withStack: withStack,
	}
}

// GenerateText 生成文本
// @Summary 生成文本
// @Description 根据项目上下文与既有章节生成正文或头脑风暴回复
// @Tags Generation
// @Accept json
// @Produce json
// @Param model query string false "模型名"
// @Param body body dto.GenerateTextRequest true "生成请求"
// @Success 200 {object} dto.GenerateTextResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 408 {object} dto.ErrorResponse
// @Failure 429 {object} dto.ErrorResponse
// @Failure 503 {object} dto.ErrorResponse
// @Router /v1/generate-text [post]
func (h *GenerateHandler) GenerateText(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil || len(bytes.TrimSpace(body)) == 0 {
		dto.Error(c, errors.ErrMissingBody, h.withStack)
		return
	}

	var req dto.GenerateTextRequest
	if err := json.Unmarshal(body, &req); err != nil {
		dto.Error(c, errors.Wrap(err, errors.CodeInvalidParam, errors.ErrInvalidJSON.Message), h.withStack)
		return
	}

	genReq := req.ToGenerationRequest(c.Query("model"))
	genReq.AuthUserID = c.GetString(middleware.AuthUserIDKey)
	genReq.AuthEmail = c.GetString(middleware.AuthEmailKey)

	result, err := h.service.Generate(c.Request.Context(), genReq)
	tagGeneration(c, genReq)
	if err != nil {
		dto.Error(c, err, h.withStack)
		return
	}

	resp := dto.NewGenerateTextResponse(result)
	if req.Stream {
		streamResult(c, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// tagGeneration 为请求指标标注生成模式与返回方式
func tagGeneration(c *gin.Context, req *generation.Request) {
	mode := llm.ModeGenerate
	if strings.EqualFold(strings.TrimSpace(string(req.Mode)), string(llm.ModeChat)) {
		mode = llm.ModeChat
	}
	delivery := "json"
	if req.Stream {
		delivery = "sse"
	}
	c.Set(middleware.GenerationModeKey, string(mode))
	c.Set(middleware.GenerationDeliveryKey, delivery)
}

// Options 预检请求
func (h *GenerateHandler) Options(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// MethodNotAllowed 非 POST 请求
func (h *GenerateHandler) MethodNotAllowed(c *gin.Context) {
	dto.Abort(c, errors.ErrMethodNotAllowed.HTTPStatus, errors.ErrMethodNotAllowed.Message)
}
