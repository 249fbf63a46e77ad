package handlers

import (
	"net/http"
	"slices"

	"go.uber.org/zap"

	"github.com/BaSui01/edgeflow"
	"github.com/BaSui01/edgeflow/capability"
	"github.com/BaSui01/edgeflow/lifecycle"
	"github.com/BaSui01/edgeflow/types"
)

// =============================================================================
// 🧩 Runtime Handler
// =============================================================================

// RuntimeHandler 暴露运行时只读视图与内存压力入口
type RuntimeHandler struct {
	runtime *edgeflow.Runtime
	logger  *zap.Logger
}

// NewRuntimeHandler 创建运行时处理器
func NewRuntimeHandler(rt *edgeflow.Runtime, logger *zap.Logger) *RuntimeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuntimeHandler{
		runtime: rt,
		logger:  logger.With(zap.String("component", "runtime_handler")),
	}
}

// ModelsView 是 /api/v1/models 的响应体
type ModelsView struct {
	Loaded      []lifecycle.Handle                       `json:"loaded"`
	States      map[types.Capability]lifecycle.StateInfo `json:"states"`
	TotalMemory int64                                    `json:"total_memory_bytes"`
	Budget      int64                                    `json:"budget_bytes"`
}

// PressureRequest 是内存压力请求体
type PressureRequest struct {
	Level lifecycle.PressureLevel `json:"level"`
}

// PressureResponse 列出被驱逐的模型
type PressureResponse struct {
	Level   lifecycle.PressureLevel `json:"level"`
	Evicted []string                `json:"evicted"`
}

// HandleProviders 列出已注册 provider，可按 ?capability= 过滤
func (h *RuntimeHandler) HandleProviders(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	caps := h.runtime.Registry().Capabilities()
	if raw := r.URL.Query().Get("capability"); raw != "" {
		c := types.Capability(raw)
		if !c.Valid() {
			WriteError(w, r, types.Errorf(types.ErrInvalidRequest, "unknown capability %q", raw), h.logger)
			return
		}
		caps = []types.Capability{c}
	}

	out := make([]capability.ProviderInfo, 0)
	for _, c := range caps {
		out = append(out, h.runtime.Registry().Providers(c)...)
	}
	WriteSuccess(w, r, out)
}

// HandleModules 列出后端模块
func (h *RuntimeHandler) HandleModules(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteSuccess(w, r, h.runtime.Modules().List())
}

// HandleComponents 返回各组件生命周期快照
func (h *RuntimeHandler) HandleComponents(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteSuccess(w, r, h.runtime.Coordinator().Snapshot())
}

// HandleModels 返回已加载模型与各模态加载状态
func (h *RuntimeHandler) HandleModels(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	tracker := h.runtime.Tracker()
	WriteSuccess(w, r, ModelsView{
		Loaded:      tracker.Loaded(),
		States:      tracker.States(),
		TotalMemory: tracker.TotalMemory(),
		Budget:      tracker.Budget(),
	})
}

// HandleMemoryPressure 按压力级别驱逐模型
func (h *RuntimeHandler) HandleMemoryPressure(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req PressureRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	evicted := h.runtime.Tracker().HandlePressure(r.Context(), req.Level)
	if evicted == nil {
		evicted = []string{}
	}
	slices.Sort(evicted)

	h.logger.Debug("memory pressure requested",
		zap.Stringer("level", req.Level),
		zap.Strings("evicted", evicted))

	WriteSuccess(w, r, PressureResponse{Level: req.Level, Evicted: evicted})
}
