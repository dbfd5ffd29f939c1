package vm

// HostVM serves the SYSCALL instruction. The request starts at syscallPtr; the host
// reads it from and writes its response into m's memory.
type HostVM interface {
	InvokeSyscall(m *Machine, syscallPtr Relocatable) error
}
