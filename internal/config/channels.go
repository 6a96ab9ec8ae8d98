package config

// ChannelsConfig points at the channel formatting policy table.
type ChannelsConfig struct {
	// PolicyPath is a yaml file declaring per-channel limits. Empty
	// uses the built-in defaults.
	PolicyPath string `yaml:"policy_path"`

	// WatchPolicy reloads the policy file on change.
	WatchPolicy bool `yaml:"watch_policy"`
}

// DefaultChannelsConfig returns sensible defaults.
func DefaultChannelsConfig() ChannelsConfig {
	return ChannelsConfig{WatchPolicy: false}
}

// DeliveryConfig configures outbound gateways per channel.
type DeliveryConfig struct {
	SMS      SMSGatewayConfig      `yaml:"sms"`
	Email    EmailGatewayConfig    `yaml:"email"`
	Slack    SlackGatewayConfig    `yaml:"slack"`
	Telegram TelegramGatewayConfig `yaml:"telegram"`
}

// SMSGatewayConfig configures the Twilio-style SMS gateway.
type SMSGatewayConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	From       string `yaml:"from"`
	BaseURL    string `yaml:"base_url"`
}

// EmailGatewayConfig configures the HTTP email gateway.
type EmailGatewayConfig struct {
	APIKey  string `yaml:"api_key"`
	From    string `yaml:"from"`
	BaseURL string `yaml:"base_url"`
}

// SlackGatewayConfig configures the Slack gateway.
type SlackGatewayConfig struct {
	BotToken string `yaml:"bot_token"`
}

// TelegramGatewayConfig configures the Telegram gateway.
type TelegramGatewayConfig struct {
	Token     string `yaml:"token"`
	ParseMode string `yaml:"parse_mode"`
}

// DefaultDeliveryConfig returns sensible defaults.
func DefaultDeliveryConfig() DeliveryConfig {
	return DeliveryConfig{
		SMS:      SMSGatewayConfig{BaseURL: "https://api.twilio.com/2010-04-01"},
		Telegram: TelegramGatewayConfig{ParseMode: "Markdown"},
	}
}

// ProviderConfig configures the time-tracking data provider.
type ProviderConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Timeout string `yaml:"timeout"`
}

// DefaultProviderConfig returns sensible defaults.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{Timeout: "15s"}
}

// ServerConfig configures the inbound webhook server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{Addr: ":8080"}
}
