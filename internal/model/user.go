package model

import (
	"strings"
	"unicode/utf16"

	"github.com/lk2023060901/danmu-garden-chat/pkg/util/merr"
)

// UserStatus 是用户的在线状态，数值即线上编码值。
type UserStatus int32

const (
	UserStatusOnline UserStatus = iota
	UserStatusAway
	UserStatusBusy
	UserStatusOffline
)

var userStatusNames = map[UserStatus]string{
	UserStatusOnline:  "ONLINE",
	UserStatusAway:    "AWAY",
	UserStatusBusy:    "BUSY",
	UserStatusOffline: "OFFLINE",
}

func (s UserStatus) String() string {
	if name, ok := userStatusNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

func (s UserStatus) Valid() bool {
	_, ok := userStatusNames[s]
	return ok
}

func ParseUserStatus(name string) (UserStatus, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for s, n := range userStatusNames {
		if n == upper {
			return s, nil
		}
	}
	return UserStatusOffline, merr.WrapErrParameterInvalidMsg("unknown user status %q", name)
}

var avatarPalette = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#FFA07A",
	"#98D8C8", "#F7B731", "#5F27CD", "#00D2D3",
}

// User 是在线列表与账户查询返回的用户记录，不含密码。
type User struct {
	Username    string
	Email       string
	Status      UserStatus
	AvatarColor string
}

// NewOnlineUser 构造一个在线状态的用户记录。
func NewOnlineUser(username string) User {
	return User{
		Username:    username,
		Status:      UserStatusOnline,
		AvatarColor: AvatarColor(username),
	}
}

// AvatarColor 根据用户名确定头像颜色，同一用户名在任何进程中结果一致。
// 哈希算法为 31 进制的 int32 滚动哈希，与历史客户端保持一致。
func AvatarColor(username string) string {
	var h int32
	for _, r := range utf16.Encode([]rune(username)) {
		h = 31*h + int32(r)
	}
	idx := int64(h)
	if idx < 0 {
		idx = -idx
	}
	return avatarPalette[idx%int64(len(avatarPalette))]
}

// Initials 返回用户名的前两个字符的大写形式。
func (u User) Initials() string {
	r := []rune(u.Username)
	if len(r) > 2 {
		r = r[:2]
	}
	return strings.ToUpper(string(r))
}
