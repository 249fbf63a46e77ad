/*
Package handlers 提供 EdgeFlow 运维 HTTP API 的请求处理器实现。

# 概述

handlers 包实现了 edgeflow serve 暴露的所有端点：健康检查、运行时只读视图、
内存压力入口以及生命周期事件的 websocket 推送。所有 Handler 均遵循标准
net/http 接口，由 cmd/edgeflow 负责路由与中间件装配。

# 核心类型

  - HealthHandler ：健康检查（/health, /healthz, /ready, /version）
  - RuntimeHandler：provider、模块、组件、模型查询与 POST /api/v1/memory-pressure
  - EventHub      ：将 tracker 事件以 JSON 广播给 websocket 订阅者（/api/v1/events）
  - Response      ：统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo     ：结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter：包装 http.ResponseWriter 以捕获状态码，支持 Flush/Hijack

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、RequireMethod
  - ErrorCode → HTTP 状态码映射（StatusForCode）
  - 订阅上限与慢订阅者丢弃，单个订阅者不会阻塞广播
*/
package handlers
