package config

const (
	DefaultAPIListen  = ":8080"
	DefaultMCPListen  = ":3001"
	DefaultChatListen = ":3000"

	DefaultHeartbeatMS = 60000
	DefaultQueueSize   = 32

	DefaultChatMaxSteps      = 8
	DefaultContextTokenLimit = 24000

	DefaultRefreshMS = 1000
)
