// Package channel formats composed text for a delivery channel according
// to a declarative per-channel policy table.
package channel

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"timeclerk/internal/types"
)

// MarkupLevel says how much markup a channel tolerates.
type MarkupLevel string

const (
	MarkupNone    MarkupLevel = "none"
	MarkupLimited MarkupLevel = "limited" // bold/italic survive, headings and links are flattened
	MarkupFull    MarkupLevel = "full"
)

// Policy is the formatting contract for one channel.
type Policy struct {
	MaxLength int         `yaml:"max_length"`
	Markup    MarkupLevel `yaml:"markup"`
	Tone      string      `yaml:"tone"`
}

// PolicyTable maps channels to their policies.
type PolicyTable map[types.Channel]Policy

// DefaultPolicyTable mirrors the practical limits of each surface. The
// chat limits follow the platform caps (Slack/Telegram ~4000).
func DefaultPolicyTable() PolicyTable {
	return PolicyTable{
		types.ChannelSMS:      {MaxLength: 480, Markup: MarkupNone, Tone: "plain and brief"},
		types.ChannelEmail:    {MaxLength: 10000, Markup: MarkupFull, Tone: "professional"},
		types.ChannelChat:     {MaxLength: 4000, Markup: MarkupLimited, Tone: "conversational"},
		types.ChannelSlack:    {MaxLength: 4000, Markup: MarkupLimited, Tone: "conversational"},
		types.ChannelTelegram: {MaxLength: 4000, Markup: MarkupLimited, Tone: "conversational"},
	}
}

// LoadPolicyTable reads a policy table from yaml and validates it. A
// malformed table is a loud configuration error, not something to paper
// over at format time.
func LoadPolicyTable(path string) (PolicyTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read policy file %s: %v", types.ErrFormatting, path, err)
	}

	raw := make(map[string]Policy)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: failed to parse policy file %s: %v", types.ErrFormatting, path, err)
	}

	table := make(PolicyTable, len(raw))
	for name, p := range raw {
		table[types.Channel(name)] = p
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}

// Validate checks every policy entry.
func (t PolicyTable) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("%w: policy table is empty", types.ErrFormatting)
	}
	for ch, p := range t {
		if p.MaxLength <= 0 {
			return fmt.Errorf("%w: channel %s has non-positive max_length %d", types.ErrFormatting, ch, p.MaxLength)
		}
		switch p.Markup {
		case MarkupNone, MarkupLimited, MarkupFull:
		default:
			return fmt.Errorf("%w: channel %s has unknown markup level %q", types.ErrFormatting, ch, p.Markup)
		}
	}
	return nil
}
