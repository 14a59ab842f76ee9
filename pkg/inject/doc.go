// Package inject loads, queries and unloads shared libraries inside a
// running process without its cooperation, by synthesizing short machine
// code stubs that invoke the tracee's own dynamic linker routines and
// running them under ptrace control.
//
// The target process has to be stopped under ptrace before any operation
// here begins, and every operation leaves registers and memory the way it
// found them. Linux/x86-64 only.
package inject
