package util

const DateFormat = "2006-01-02"

const (
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

const (
	DefaultActivityLogLimit = 50
	MaxActivityLogLimit     = 200
	DefaultLeaderboardLimit = 50
	GuildLeaderboardLimit   = 20
)
