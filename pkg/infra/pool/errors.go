// Package pool 基于 ants 提供有界并发的工作池。
package pool

import "errors"

var (
	// ErrPoolClosed 池已关闭
	ErrPoolClosed = errors.New("池已关闭")

	// ErrPoolOverload 池已满（非阻塞模式）
	ErrPoolOverload = errors.New("池已满")

	// ErrInvalidPoolConfig 无效的池配置
	ErrInvalidPoolConfig = errors.New("无效的池配置")
)
