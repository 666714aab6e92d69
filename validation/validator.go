// Package validation 提供服务入口的参数校验，失败时返回 ErrCodeValidation 错误
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"gochen-trade/errors"
)

var (
	emailRegex    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.@-]+$`)
)

func invalid(format string, args ...any) error {
	return errors.NewError(errors.ErrCodeValidation, fmt.Sprintf(format, args...))
}

// ValidateRequired 验证必填字段
func ValidateRequired(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return invalid("%s不能为空", fieldName)
	}
	return nil
}

// ValidateStringLength 按字符数验证长度，max 为 0 表示不限制
func ValidateStringLength(value, fieldName string, min, max int) error {
	length := utf8.RuneCountInString(value)
	if length < min {
		return invalid("%s长度不能少于%d个字符（当前%d）", fieldName, min, length)
	}
	if max > 0 && length > max {
		return invalid("%s长度不能超过%d个字符（当前%d）", fieldName, max, length)
	}
	return nil
}

// ValidateIntRange 验证整数闭区间
func ValidateIntRange(value int, fieldName string, min, max int) error {
	if value < min {
		return invalid("%s不能小于%d（当前%d）", fieldName, min, value)
	}
	if value > max {
		return invalid("%s不能大于%d（当前%d）", fieldName, max, value)
	}
	return nil
}

// ValidateDecimalRange 验证金额闭区间
func ValidateDecimalRange(value decimal.Decimal, fieldName string, min, max decimal.Decimal) error {
	if value.LessThan(min) {
		return invalid("%s不能小于%s（当前%s）", fieldName, min, value)
	}
	if value.GreaterThan(max) {
		return invalid("%s不能大于%s（当前%s）", fieldName, max, value)
	}
	return nil
}

// ValidateEmail 验证邮箱格式
func ValidateEmail(email string) error {
	if email == "" {
		return invalid("邮箱不能为空")
	}
	if !emailRegex.MatchString(email) {
		return invalid("邮箱格式不正确")
	}
	return nil
}

// ValidateUsername 验证用户名，允许邮箱形式
func ValidateUsername(username string) error {
	if err := ValidateRequired(username, "用户名"); err != nil {
		return err
	}
	if err := ValidateStringLength(username, "用户名", 3, 100); err != nil {
		return err
	}
	if !usernameRegex.MatchString(username) {
		return invalid("用户名只能包含字母、数字和 _ . @ -")
	}
	return nil
}

// ValidateEnum 验证枚举值
func ValidateEnum(value, fieldName string, validValues []string) error {
	for _, valid := range validValues {
		if value == valid {
			return nil
		}
	}
	return invalid("%s的值无效，必须是以下之一: %v", fieldName, validValues)
}
