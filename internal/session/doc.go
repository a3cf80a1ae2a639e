// Package session 保存 GitHub OAuth 登录后的访问令牌。
//
// 浏览器只持有经 HMAC 签名的会话 ID，令牌本身存放在 Store（内存或 Redis）中。
package session
