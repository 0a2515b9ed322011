package relay

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/FalcoGer/pmp/internal/escape"
)

var (
	ErrSettingNotFound = errors.New("setting not found")
	ErrSettingType     = errors.New("setting has a different type")
	ErrSettingValue    = errors.New("setting value out of range")
)

// MaxChunkSize bounds the per-read buffer a pump allocates.
const MaxChunkSize = 64 * 1024

// SessionSettings configure the relay itself.
type SessionSettings struct {
	PacketNotification bool `json:"packet_notification"`
	ChunkSize          int  `json:"chunk_size"`
}

// HookSettings configure the interception hooks. They live on the session
// so that replacing the hook keeps them.
type HookSettings struct {
	Hexdump       bool `json:"hexdump"`
	BytesPerLine  int  `json:"hexdump_bytes_per_line"`
	BytesPerGroup int  `json:"hexdump_bytes_per_group"`
	Rules         bool `json:"rules"`
}

// Settings is the complete per-session configuration.
type Settings struct {
	Session SessionSettings `json:"session"`
	Hook    HookSettings    `json:"hook"`
}

// DefaultSettings returns the settings a new session starts with.
func DefaultSettings() Settings {
	return Settings{
		Session: SessionSettings{PacketNotification: true, ChunkSize: 4096},
		Hook:    HookSettings{Hexdump: true, BytesPerLine: 16, BytesPerGroup: 4, Rules: true},
	}
}

// Validate checks ranges. Settings loaded from a store pass through here too.
func (s Settings) Validate() error {
	if s.Session.ChunkSize < 1 || s.Session.ChunkSize > MaxChunkSize {
		return fmt.Errorf("%w: %s=%d not in [1, %d]", ErrSettingValue, KeyChunkSize, s.Session.ChunkSize, MaxChunkSize)
	}
	if s.Hook.BytesPerLine < 1 {
		return fmt.Errorf("%w: %s=%d must be at least 1", ErrSettingValue, KeyBytesPerLine, s.Hook.BytesPerLine)
	}
	if s.Hook.BytesPerGroup < 0 {
		return fmt.Errorf("%w: %s=%d must not be negative", ErrSettingValue, KeyBytesPerGroup, s.Hook.BytesPerGroup)
	}
	return nil
}

// SettingKey names one field of Settings for the shell.
type SettingKey string

const (
	KeyPacketNotification SettingKey = "packet_notification"
	KeyChunkSize          SettingKey = "chunk_size"
	KeyHexdump            SettingKey = "hexdump"
	KeyBytesPerLine       SettingKey = "hexdump_bytes_per_line"
	KeyBytesPerGroup      SettingKey = "hexdump_bytes_per_group"
	KeyRules              SettingKey = "rules"
)

type boolField struct {
	get func(*Settings) *bool
}

type intField struct {
	get func(*Settings) *int
}

var settingFields = map[SettingKey]any{
	KeyPacketNotification: boolField{func(s *Settings) *bool { return &s.Session.PacketNotification }},
	KeyChunkSize:          intField{func(s *Settings) *int { return &s.Session.ChunkSize }},
	KeyHexdump:            boolField{func(s *Settings) *bool { return &s.Hook.Hexdump }},
	KeyBytesPerLine:       intField{func(s *Settings) *int { return &s.Hook.BytesPerLine }},
	KeyBytesPerGroup:      intField{func(s *Settings) *int { return &s.Hook.BytesPerGroup }},
	KeyRules:              boolField{func(s *Settings) *bool { return &s.Hook.Rules }},
}

// SettingKeys lists every known key in sorted order.
func SettingKeys() []SettingKey {
	keys := make([]SettingKey, 0, len(settingFields))
	for k := range settingFields {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Get returns the value stored under key: a bool or an int.
func (s Settings) Get(key SettingKey) (any, error) {
	switch f := settingFields[key].(type) {
	case boolField:
		return *f.get(&s), nil
	case intField:
		return *f.get(&s), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrSettingNotFound, key)
}

// Set stores value under key. The value must have the key's type.
func (s *Settings) Set(key SettingKey, value any) error {
	switch f := settingFields[key].(type) {
	case boolField:
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("%w: %s wants bool, got %T", ErrSettingType, key, value)
		}
		*f.get(s) = v
		return nil
	case intField:
		v, ok := value.(int)
		if !ok {
			return fmt.Errorf("%w: %s wants int, got %T", ErrSettingType, key, value)
		}
		*f.get(s) = v
		return nil
	}
	return fmt.Errorf("%w: %q", ErrSettingNotFound, key)
}

// ParseSetting converts operator text into the value type of key.
// Booleans accept yes/no, on/off and true/false; integers accept Go literal
// prefixes (0x or x, 0o, o or a leading 0, 0b or b).
func ParseSetting(key SettingKey, text string) (any, error) {
	switch settingFields[key].(type) {
	case boolField:
		switch strings.ToLower(text) {
		case "yes", "on", "true", "1":
			return true, nil
		case "no", "off", "false", "0":
			return false, nil
		}
		return nil, fmt.Errorf("%w: %s wants yes or no, got %q", ErrSettingType, key, text)
	case intField:
		v, err := escape.ParseInt(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %s wants a number: %v", ErrSettingType, key, err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrSettingNotFound, key)
}

// SettingsStore persists settings by session name.
type SettingsStore interface {
	// Load returns the stored settings, or ok=false when none were saved.
	Load(name string) (s Settings, ok bool, err error)
	Save(name string, s Settings) error
}
