package model

import (
	"encoding/json"
	"strings"
)

// CallType WebRTC 信令类型
type CallType string

const (
	CallOffer    CallType = "CALL_OFFER"
	CallAnswer   CallType = "CALL_ANSWER"
	IceCandidate CallType = "ICE_CANDIDATE"
	CallReject   CallType = "CALL_REJECT"
	CallEnd      CallType = "CALL_END"
)

// CallEnvelope 通话信令。offer/answer/candidate 原样透传，服务端不解析
type CallEnvelope struct {
	Type      CallType        `json:"type"`
	Sender    string          `json:"sender"`
	Receiver  string          `json:"receiver"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Reason    string          `json:"reason,omitempty"` // CALL_REJECT / CALL_END 时使用
	Timestamp string          `json:"timestamp,omitempty"`
}

// Validate 只检查收发双方
func (c *CallEnvelope) Validate() (field string, ok bool) {
	if strings.TrimSpace(c.Receiver) == "" {
		return "receiver", false
	}
	if strings.TrimSpace(c.Sender) == "" {
		return "sender", false
	}
	return "", true
}
