package version

import (
	"github.com/blang/semver/v4"
)

// 通过 -ldflags "-X github.com/lk2023060901/danmu-garden-chat/pkg/version.Version=x.y.z" 覆盖。
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

// Semver 解析当前版本号，非法时退回 0.0.0。
func Semver() semver.Version {
	v, err := semver.ParseTolerant(Version)
	if err != nil {
		return semver.Version{}
	}
	return v
}

// String 返回带提交号的版本描述，例如 "0.1.0 (abc1234)"。
func String() string {
	return Semver().String() + " (" + GitCommit + ")"
}
