package store

import (
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/lk2023060901/danmu-garden-chat/internal/model"
	"github.com/lk2023060901/danmu-garden-chat/pkg/util/merr"
)

// DefaultBcryptCost 是生产环境使用的 bcrypt 代价。
const DefaultBcryptCost = 12

const (
	maxUsernameLen = 64
	// bcrypt 只使用前 72 字节。
	maxPasswordLen = 72
)

// ValidateCredentials 检查用户名与密码的基本格式。
func ValidateCredentials(username, password string) error {
	if strings.TrimSpace(username) == "" {
		return merr.WrapErrParameterMissing("username")
	}
	if password == "" {
		return merr.WrapErrParameterMissing("password")
	}
	if len(username) > maxUsernameLen {
		return merr.WrapErrParameterTooLarge("username")
	}
	if len(password) > maxPasswordLen {
		return merr.WrapErrParameterTooLarge("password")
	}
	if username == model.SystemSender {
		return merr.WrapErrParameterInvalidMsg("username %q is reserved", username)
	}
	return nil
}

// HashPassword 使用 bcrypt 计算密码哈希，cost 非法时退回默认值。
func HashPassword(password string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", merr.WrapErrServiceInternal("hash password", err.Error())
	}
	return string(hash), nil
}

// CheckPassword 比较密码与哈希，不匹配时返回 ErrAuthInvalidCredentials。
func CheckPassword(username, hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return merr.WrapErrAuthInvalidCredentials(username)
	default:
		return merr.WrapErrServiceInternal("verify password", err.Error())
	}
}
