package network

import "go.uber.org/zap"

// Stage 表示网络收发链路中的处理阶段。
//
// 主要用于在日志中标记错误发生的位置，便于监控与排查。
type Stage string

const (
	StageAccept   Stage = "accept"   // 接入连接、提交到协程池
	StageAuth     Stage = "auth"     // 认证帧读取与凭据校验
	StageDecode   Stage = "decode"   // 字节 -> Frame
	StageDispatch Stage = "dispatch" // Frame -> 路由
	StageDeliver  Stage = "deliver"  // 向其它会话投递
	StageCleanup  Stage = "cleanup"  // 会话退出清理
)

// Field 返回用于日志的阶段字段。
func (s Stage) Field() zap.Field {
	return zap.String("stage", string(s))
}
