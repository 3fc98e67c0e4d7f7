package compressor

// Compressor 抽象了“单次压缩/解压”能力，用于帧 body。
//
// 不做全局单例，调用方按需创建具体实现的实例。
type Compressor interface {
	// Compress 将 src 压缩到 dst。
	//
	// dst 一般可以传入一个可复用的缓冲区（长度可为 0）。
	// 返回的 compressed 为 false 时表示未压缩（例如低于阈值），packet 即 src 本身。
	Compress(dst, src []byte) (packet []byte, compressed bool, err error)

	// Decompress 将压缩数据 src 解压到 dst。
	//
	// src 必须是 Compress 在 compressed=true 时的输出。
	Decompress(dst, src []byte) (plain []byte, err error)
}

// NopCompressor 是一个空实现：不做任何压缩，收到压缩数据时原样返回。
//
// 未开启压缩功能时作为默认值注入。
type NopCompressor struct{}

func (NopCompressor) Compress(_ []byte, src []byte) ([]byte, bool, error) {
	return src, false, nil
}

func (NopCompressor) Decompress(_ []byte, src []byte) ([]byte, error) {
	return src, nil
}

var _ Compressor = NopCompressor{}
