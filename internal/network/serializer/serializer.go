package serializer

import (
	"strings"

	"github.com/lk2023060901/danmu-garden-chat/internal/model"
	"github.com/lk2023060901/danmu-garden-chat/pkg/util/merr"
)

// Serializer 抽象了网络层 Message 记录的序列化能力。
//
// 设计目标：
//   - 同一套帧结构下既支持二进制（protobuf wire format），也支持 JSON。
//   - 调用方通过接口注入具体实现，服务端与客户端必须使用同一种实现。
//
// 两种实现的往返都有两处规整：时间戳按 Unix 纳秒传输，解码结果统一为 UTC，
// 只能用 Time.Equal 比较；长度为 0 的 FileData 不上线，解码为 nil。
// 服务端用 model.Now 构造的消息本身就是 UTC，不受影响。
type Serializer interface {
	// Name 返回实现名称，用于配置与日志。
	Name() string

	// Marshal 将消息编码为字节序列。
	Marshal(msg *model.Message) ([]byte, error)

	// Unmarshal 将字节序列解码为新的消息对象。
	Unmarshal(data []byte) (*model.Message, error)
}

const (
	NameBinary = "binary"
	NameJSON   = "json"
)

// New 按名称创建 Serializer，名称为空时使用二进制实现。
func New(name string) (Serializer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameBinary:
		return BinarySerializer{}, nil
	case NameJSON:
		return JSONSerializer{}, nil
	default:
		return nil, merr.WrapErrParameterInvalid(NameBinary+"|"+NameJSON, name, "codec.serializer")
	}
}
