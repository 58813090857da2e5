package model

import (
	"strings"
	"time"
)

// Kind 聊天事件类型，字符串值与前端协议保持一致
type Kind string

const (
	KindChat       Kind = "CHAT"
	KindJoin       Kind = "JOIN"
	KindLeave      Kind = "LEAVE"
	KindFile       Kind = "FILE"
	KindUserUpdate Kind = "USERS" // 在线名单广播
)

// SystemSender 名单广播使用的固定发送者
const SystemSender = "System"

// ChatEvent 一条面向用户的聊天消息
type ChatEvent struct {
	Type      Kind      `json:"type"`
	Content   string    `json:"content,omitempty"`  // 文本 / 文件说明
	Sender    string    `json:"sender"`             // 必填
	Receiver  string    `json:"receiver,omitempty"` // 为空表示公共广播
	Timestamp time.Time `json:"timestamp"`          // 由路由写入，不信任客户端

	// 文件字段，仅 Type=FILE 时有意义；FileData 已是 base64，只转发不落盘
	FileName string `json:"fileName,omitempty"`
	FileType string `json:"fileType,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
	FileData string `json:"fileData,omitempty"`

	ProfilePic string `json:"profilePic,omitempty"` // 原样透传
}

// IsPublic 接收者为空（含空白）即公共消息
func (e *ChatEvent) IsPublic() bool {
	return strings.TrimSpace(e.Receiver) == ""
}

// Caption 文件的文字说明：优先 content，没有就用文件名
func (e *ChatEvent) Caption() string {
	if strings.TrimSpace(e.Content) != "" {
		return e.Content
	}
	return e.FileName
}
