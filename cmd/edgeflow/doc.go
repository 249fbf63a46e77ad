/*
Package main 提供 EdgeFlow 服务端程序入口。

# 概述

cmd/edgeflow 是 EdgeFlow 运行时的可执行入口，提供运维 HTTP 服务、
配置校验、健康检查和版本查询等子命令。程序支持 YAML 配置文件加载与热更新、
结构化日志（zap）、Prometheus 指标采集以及 OpenTelemetry 追踪。

# 核心类型

  - Server    ：主服务器，管理运行时、API 与 Metrics 双端口及优雅关闭
  - Middleware：HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、validate、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    MetricsMiddleware、OTelTracing、RateLimiter（基于 IP）
  - 管理端点：POST /api/v1/memory-pressure 在配置 JWT 密钥时需 Bearer token（HS256）
  - 配置热更新：文件变更后重新加载并校验，热应用选择策略与内存预算
  - 事件推送：/api/v1/events 以 websocket 推送模型生命周期事件
  - Metrics 服务器：独立端口暴露 /metrics（独立 prometheus.Registry）
  - 优雅关闭：信号监听 → 停止监听 → 关闭 HTTP → 关闭 Metrics → 释放组件 → 刷新遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
