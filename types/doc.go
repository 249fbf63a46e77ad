/*
Package types 提供 EdgeFlow 运行时的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 capability、component、
lifecycle、voice 等上层模块提供统一的类型契约。

# 核心类型

  - Capability       ：能力类型（text-generation、speech-to-text 等），同时表示模态槽位
  - Framework        ：推理后端标识（llamacpp、onnx、whispercpp ...）
  - ModelFormat      ：模型打包格式
  - ModelDescriptor  ：外部模型目录提供的只读模型描述
  - Error / ErrorCode：结构化错误体系，含 Retryable、Provider 标记

# 错误工具链

  - NewError / Errorf / WithCause / WithRetryable / WithProvider
  - AsError / GetErrorCode / IsErrorCode / IsRetryable（基于 errors.As，可穿透包装）
  - 常用构造：NewProviderNotFoundError / NewResourceExhaustedError / NewStageFailedError
*/
package types
