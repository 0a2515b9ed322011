package relay

import (
	"errors"
	"testing"
)

func TestSettingsGetSet(t *testing.T) {
	s := DefaultSettings()
	for _, key := range SettingKeys() {
		if _, err := s.Get(key); err != nil {
			t.Errorf("Get(%s): %v", key, err)
		}
	}
	if err := s.Set(KeyBytesPerGroup, 8); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if s.Hook.BytesPerGroup != 8 {
		t.Errorf("BytesPerGroup = %d, want 8", s.Hook.BytesPerGroup)
	}
	if err := s.Set(KeyRules, 1); !errors.Is(err, ErrSettingType) {
		t.Errorf("Set(rules, 1) = %v, want ErrSettingType", err)
	}
	if err := s.Set("missing", true); !errors.Is(err, ErrSettingNotFound) {
		t.Errorf("Set(missing) = %v, want ErrSettingNotFound", err)
	}
}

func TestParseSetting(t *testing.T) {
	cases := []struct {
		key  SettingKey
		text string
		want any
		err  error
	}{
		{KeyHexdump, "yes", true, nil},
		{KeyHexdump, "OFF", false, nil},
		{KeyHexdump, "maybe", nil, ErrSettingType},
		{KeyChunkSize, "0x1000", 4096, nil},
		{KeyChunkSize, "0b101", 5, nil},
		{KeyChunkSize, "12", 12, nil},
		{KeyChunkSize, "twelve", nil, ErrSettingType},
		{"missing", "1", nil, ErrSettingNotFound},
	}
	for _, tc := range cases {
		got, err := ParseSetting(tc.key, tc.text)
		if tc.err != nil {
			if !errors.Is(err, tc.err) {
				t.Errorf("ParseSetting(%s, %q) error = %v, want %v", tc.key, tc.text, err, tc.err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("ParseSetting(%s, %q) = %v, %v; want %v", tc.key, tc.text, got, err, tc.want)
		}
	}
}

func TestSettingsValidate(t *testing.T) {
	s := DefaultSettings()
	if err := s.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	bad := []func(*Settings){
		func(s *Settings) { s.Session.ChunkSize = 0 },
		func(s *Settings) { s.Session.ChunkSize = MaxChunkSize + 1 },
		func(s *Settings) { s.Hook.BytesPerLine = 0 },
		func(s *Settings) { s.Hook.BytesPerGroup = -1 },
	}
	for i, mutate := range bad {
		s := DefaultSettings()
		mutate(&s)
		if err := s.Validate(); !errors.Is(err, ErrSettingValue) {
			t.Errorf("case %d: Validate = %v, want ErrSettingValue", i, err)
		}
	}
}
