/*
包 metrics 提供基于 Prometheus 的运行时指标采集能力，覆盖
HTTP、组件初始化、模型生命周期与语音流水线四个维度。

# 核心类型

  - Recorder：核心包（component、lifecycle、voice）依赖的记录接口。
  - Nop：空实现，供测试与未启用指标时使用。
  - Collector：Prometheus 实现，通过 promauto.With 注册到调用方
    指定的 Registerer，便于测试使用独立 Registry。

# 主要能力

  - HTTP 指标：请求总数、耗时、响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 组件指标：初始化次数与耗时，按 capability/provider/status 分组。
  - 模型指标：已加载模型数、内存占用、驱逐次数、丢弃事件数。
  - 流水线指标：状态转换、非法转换、打断与阶段失败计数。
*/
package metrics
