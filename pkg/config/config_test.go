package config

import (
	"testing"
)

func TestLoadConfigCreatesDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	conf := LoadConfig()
	if conf == nil {
		t.Fatal("LoadConfig returned nil")
	}
	if conf.DefaultRTLDFlags != "now" {
		t.Errorf("default rtld flags = %q, want %q", conf.DefaultRTLDFlags, "now")
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	conf := LoadConfig()
	conf.Aliases = map[string][]string{"dlopen": {"inj", "load"}}
	conf.DefaultRTLDFlags = "lazy,global"
	max := 300
	conf.MaxHistoryEntries = &max

	if err := SaveConfig(conf); err != nil {
		t.Fatal(err)
	}

	loaded := LoadConfig()
	if loaded.DefaultRTLDFlags != "lazy,global" {
		t.Errorf("rtld flags = %q after roundtrip", loaded.DefaultRTLDFlags)
	}
	if len(loaded.Aliases["dlopen"]) != 2 || loaded.Aliases["dlopen"][0] != "inj" {
		t.Errorf("aliases = %+v after roundtrip", loaded.Aliases)
	}
	if loaded.MaxHistoryEntries == nil || *loaded.MaxHistoryEntries != 300 {
		t.Errorf("max history entries = %v after roundtrip", loaded.MaxHistoryEntries)
	}
}
