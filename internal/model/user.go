// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// GoogleIDは外部IdP（Google）が発行するsubject識別子で、
// ローカルの主キー（ID）とは独立している。未連携の場合はnil。
type User struct {
	ID           string
	Email        string
	FullName     string
	PrimaryPhone *string
	GoogleID     *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
