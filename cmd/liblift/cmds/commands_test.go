package cmds

import (
	"testing"
)

func TestCommandTree(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := New()
	for _, name := range []string{"inject", "call", "eject", "find", "modules", "symbols", "attach", "config", "version"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not found: %v", name, err)
		}
	}
}

func TestTraceeCommandsRequirePid(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := New()
	root.SetArgs([]string{"modules"})
	if err := root.Execute(); err == nil {
		t.Error("modules without --pid did not fail")
	}
}

func TestEjectRejectsBadHandle(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := New()
	root.SetArgs([]string{"eject", "--pid", "1", "not-a-handle"})
	if err := root.Execute(); err == nil {
		t.Error("eject with a malformed handle did not fail")
	}
}
