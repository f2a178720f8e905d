package model

// UserRole 来自身份服务签发的令牌
type UserRole string

const (
	Player UserRole = "player"
	Admin  UserRole = "admin"
)
