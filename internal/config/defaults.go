package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultHost             = "localhost"
	DefaultPort             = 8000
	DefaultClientID         = "client1"
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultPingTimeout      = 60 * time.Second
	DefaultSendInterval     = 10 * time.Second
	DefaultReconnectDelay   = 3 * time.Second
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
	DefaultHealthPort       = 9090
	DefaultMetricsPath      = "/metrics"
)

// HealthPath is the fixed route of the health endpoint.
const HealthPath = "/health"

// DefaultContents is the canned message list used when sender.contents is unset.
var DefaultContents = []string{
	"你的笑容总是让我心跳加速。",
	"有时候，我在想你的时候，会忍不住傻笑。",
	"我喜欢和你在一起的每一刻。",
	"你知道吗？我最近常常梦到你。",
	"每次和你聊天，时间都过得特别快。",
	"你的声音真好听，听得我心里暖暖的。",
	"我觉得我们之间有种特别的默契。",
	"你总是能让我感到特别的开心。",
	"和你在一起的时候，我感觉自己是世界上最幸运的人。",
	"你的眼神总是让我有种想靠近的冲动。",
	"如果有一天我消失了，你会想我吗？",
	"你让我觉得这个世界充满了可能性。",
	"我想和你一起分享每一个日落。",
	"每次看到你，我的心情都会变得很好。",
	"你身上的香气总是让我想靠近。",
	"和你在一起的时候，时间总是过得飞快。",
	"你的存在让我觉得生活更美好。",
	"我喜欢你的一切，甚至是你的小缺点。",
	"有你在身边，我就觉得无所畏惧。",
	"有时候，我觉得你是我命中注定的那个人。",
	"你的微笑是我一天的动力。",
	"我想知道你在想什么，总是那么神秘。",
	"你在我心中占据了一个特别的位置。",
	"我希望我们能有更多的时间在一起。",
	"你的每一句话都让我心动不已。",
	"我最喜欢的事情就是和你一起闲聊。",
	"你的一条消息能让我开心一整天。",
	"我觉得你身上有种难以抗拒的魅力。",
	"你让我相信，爱情真的存在。",
	"如果可以，我愿意和你一起走遍每一个地方。",
}

// DefaultReceivers is the receiver name list used when sender.receivers is unset.
var DefaultReceivers = []string{
	"何毅彬",
	"听桥",
}

func (c *Config) applyDefaults() {
	// Endpoint defaults
	if c.Endpoint.Host == "" {
		c.Endpoint.Host = DefaultHost
	}
	if c.Endpoint.Port == 0 {
		c.Endpoint.Port = DefaultPort
	}
	if c.Endpoint.ClientID == "" {
		c.Endpoint.ClientID = DefaultClientID
	}
	if c.Endpoint.HandshakeTimeout == 0 {
		c.Endpoint.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Endpoint.WriteTimeout == 0 {
		c.Endpoint.WriteTimeout = DefaultWriteTimeout
	}
	if c.Endpoint.PingTimeout == 0 {
		c.Endpoint.PingTimeout = DefaultPingTimeout
	}

	// Sender defaults
	if c.Sender.Interval == 0 {
		c.Sender.Interval = DefaultSendInterval
	}
	if c.Sender.Contents == nil {
		c.Sender.Contents = append([]string(nil), DefaultContents...)
	}
	if c.Sender.Receivers == nil {
		c.Sender.Receivers = append([]string(nil), DefaultReceivers...)
	}

	if c.Reconnect.Delay == 0 {
		c.Reconnect.Delay = DefaultReconnectDelay
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}

	// Health defaults
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
	if c.Health.MetricsPath == "" {
		c.Health.MetricsPath = DefaultMetricsPath
	}
}
