package controller

import (
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"judgebridge/internal/engine"
	"judgebridge/internal/task/codec"
	"judgebridge/internal/task/model"
	"judgebridge/internal/task/service"
	appErr "judgebridge/pkg/errors"
	"judgebridge/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const callbackPath = "/api/callback"

// Config holds HTTP-facing settings.
type Config struct {
	// EnableCallbacks makes callback the default notify mode.
	EnableCallbacks bool
	// PublicURL is advertised to the engine when requests arrive on a loopback host.
	PublicURL string
}

// TaskController handles task HTTP endpoints.
type TaskController struct {
	taskService *service.Service
	cfg         Config
}

// NewTaskController creates a new TaskController.
func NewTaskController(taskService *service.Service, cfg Config) *TaskController {
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
	return &TaskController{taskService: taskService, cfg: cfg}
}

// ResultResponse is the task view returned by GET /api/result/:token.
type ResultResponse struct {
	model.Record
	Done bool `json:"done"`
	// Stored is false when the view was fetched from the engine for an unknown token.
	Stored bool `json:"stored"`
}

// Submit creates a submission. Engine rejections are relayed as-is.
func (h *TaskController) Submit(c *gin.Context) {
	var raw map[string]any
	if err := c.ShouldBindJSON(&raw); err != nil || raw == nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	req, err := parseSubmitRequest(raw)
	if err != nil {
		response.Error(c, err)
		return
	}

	defaultMode := model.NotifyPoll
	if h.cfg.EnableCallbacks {
		defaultMode = model.NotifyCallback
	}
	mode := model.ParseNotifyMode(req.NotifyMode, defaultMode)

	input := service.SubmitInput{
		Payload:     req.Payload,
		QueryParams: req.QueryParams,
		NotifyMode:  mode,
	}
	if mode == model.NotifyCallback {
		input.CallbackURL = h.callbackURL(c)
	}

	token, err := h.taskService.Submit(c.Request.Context(), input)
	if err != nil {
		if httpErr, ok := engine.AsHTTPError(err); ok {
			response.Passthrough(c, httpErr.Status, httpErr.ContentType, httpErr.Body)
			return
		}
		response.Error(c, err)
		return
	}
	response.Success(c, SubmitResponse{Token: token})
}

// Result returns one task. Output fields are decoded unless auto_decode=false.
func (h *TaskController) Result(c *gin.Context) {
	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		response.BadRequest(c, "Invalid token")
		return
	}
	autoDecode := true
	if raw := c.Query("auto_decode"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			response.BadRequest(c, "Invalid auto_decode")
			return
		}
		autoDecode = parsed
	}

	res, err := h.taskService.Lookup(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	rec := res.Record
	if autoDecode {
		rec.Result = codec.DecodedView(rec.Result)
	}
	response.Success(c, ResultResponse{Record: rec, Done: rec.Done(), Stored: res.Stored})
}

// List returns recently updated tasks.
func (h *TaskController) List(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			response.BadRequest(c, "Invalid limit")
			return
		}
		limit = parsed
	}
	summaries, err := h.taskService.ListRecent(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, summaries)
}

// Callback receives engine completion notifications.
func (h *TaskController) Callback(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		response.Error(c, appErr.New(appErr.MalformedCallback).WithMessage("unreadable body"))
		return
	}
	notification, err := service.DecodeNotification(body)
	if err != nil {
		response.Error(c, err)
		return
	}
	if _, err := h.taskService.HandleCallback(c.Request.Context(), notification); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Languages relays the engine's language list.
func (h *TaskController) Languages(c *gin.Context) {
	resp, err := h.taskService.Languages(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Passthrough(c, resp.Status, resp.ContentType, resp.Body)
}

// callbackURL prefers the public URL when the request came in on a loopback
// host and the public URL is not itself loopback.
func (h *TaskController) callbackURL(c *gin.Context) string {
	requested := requestBaseURL(c)
	if h.cfg.PublicURL != "" && isLoopbackURL(requested) && !isLoopbackURL(h.cfg.PublicURL) {
		return h.cfg.PublicURL + callbackPath
	}
	return requested + callbackPath
}

func requestBaseURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + c.Request.Host
}

func isLoopbackURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
