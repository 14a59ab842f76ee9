package logflags

import "testing"

func TestSetupRejectsOutputWithoutLog(t *testing.T) {
	if err := Setup(false, "inject", ""); err != errLogstrWithoutLog {
		t.Errorf("Setup(false, \"inject\", \"\") = %v, want errLogstrWithoutLog", err)
	}
}

func TestSetupRejectsUnknownComponent(t *testing.T) {
	if err := Setup(true, "kernel", ""); err == nil {
		t.Error("expected an error for an unknown component")
	}
}

func TestSetupEnablesComponents(t *testing.T) {
	defer func() { tracee, inject, terminal = false, false, false }()
	if err := Setup(true, "tracee,inject", ""); err != nil {
		t.Fatal(err)
	}
	if !Tracee() || !Inject() {
		t.Errorf("Tracee() = %v, Inject() = %v, want both true", Tracee(), Inject())
	}
	if Terminal() {
		t.Error("Terminal() = true without being named in --log-output")
	}
}
