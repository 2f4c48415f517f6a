package sink

import "golang.org/x/net/bpf"

// dropAll is a socket filter that accepts nothing. Transmit-only sockets
// attach it so the kernel never queues inbound frames for them.
func dropAll() ([]bpf.RawInstruction, error) {
	return bpf.Assemble([]bpf.Instruction{
		bpf.RetConstant{Val: 0},
	})
}
