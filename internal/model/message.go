package model

import (
	"strings"
	"time"
)

// MessageFormat はメッセージ本文の形式を表す。
type MessageFormat string

const (
	FormatText MessageFormat = "text"
	FormatHTML MessageFormat = "html"
)

// Message はチャットプラットフォームから受信したグループメッセージを表す。
type Message struct {
	Scope      ScopeID       `json:"scope_id"`
	ScopeTitle string        `json:"scope_title,omitempty"`
	UserID     string        `json:"user_id"`
	Username   string        `json:"username,omitempty"`
	Text       string        `json:"text"`
	Format     MessageFormat `json:"format,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Validate は取り込みに必要な項目が揃っているかを検証する。
// グローバルスコープへの直接の書き込みは受け付けない。
func (m Message) Validate() error {
	if m.Scope.IsGlobal() || string(m.Scope) == GlobalScopeParam {
		return NewInvalidMessageError("scope_id は必須です")
	}
	if strings.TrimSpace(m.Text) == "" {
		return NewInvalidMessageError("text が空です")
	}
	switch m.Format {
	case "", FormatText, FormatHTML:
	default:
		return NewInvalidMessageError("format は text または html です")
	}
	return nil
}
