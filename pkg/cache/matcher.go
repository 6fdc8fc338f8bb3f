package cache

import (
	"path"
	"strings"

	errs "queryopt/pkg/error"
)

// Matcher 选择需要失效的缓存键。nil 表示匹配全部。
type Matcher func(key string) bool

// All 匹配所有键
func All() Matcher {
	return nil
}

// Key 匹配与 s 相等或以 s 为前缀的键。
// 精确匹配与前缀匹配总是同时生效，调用方可以混用完整键和前缀。
func Key(s string) Matcher {
	return func(key string) bool {
		return strings.HasPrefix(key, s)
	}
}

// Exact 只匹配与 s 完全相等的键
func Exact(s string) Matcher {
	return func(key string) bool {
		return key == s
	}
}

// Predicate 使用任意判定函数匹配
func Predicate(fn func(key string) bool) Matcher {
	return Matcher(fn)
}

// Pattern 使用 glob 模式匹配，例如 "user:*:profile"。
// '*' 不跨越 '/'，与 path.Match 一致。
func Pattern(pattern string) (Matcher, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, errs.WrapError(errs.ErrInvalidRequest, "invalid key pattern "+pattern, err)
	}
	return func(key string) bool {
		ok, _ := path.Match(pattern, key)
		return ok
	}, nil
}
