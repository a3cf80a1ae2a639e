// Package alerting 把任务失败等事件扇出到日志与 Webhook 渠道。
package alerting
