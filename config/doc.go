// Package config 提供 EdgeFlow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → EDGEFLOW_* 环境变量 的顺序加载，
// Config.Validate 汇总所有段的校验错误。FileWatcher 基于 fsnotify
// 监听配置文件，Loader.Watch 在文件变更后重新加载并回调。
package config
