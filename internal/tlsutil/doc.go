// Package tlsutil 提供集中式 TLS 配置：API 监听端口的证书加载，
// 以及 health 子命令使用的加固 HTTP 客户端（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
