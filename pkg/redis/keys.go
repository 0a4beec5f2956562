package redis

import "fmt"

// RateLimitKey 统一约定限流键名，subject 为 anonUserId 或客户端 IP。
func RateLimitKey(scope, kind, subject string) string {
	return fmt.Sprintf("adstandard:rate_limit:%s:%s:%s", scope, kind, subject)
}

// OrderLockKey 标记某订单正在被修改（证据提交 / 买家评价）。
func OrderLockKey(orderID string) string {
	return fmt.Sprintf("adstandard:order:lock:%s", orderID)
}
