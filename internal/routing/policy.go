// Package routing holds the two pieces of routing state the dispatcher
// consults on every frame: the static allow-matrix between endpoint kinds
// and the learned sysid-to-endpoint ownership table.
package routing

// Kind identifies which side of the router an endpoint terminates.
type Kind uint8

const (
	KindTCP Kind = iota
	KindUART
)

func (k Kind) String() string {
	if k == KindUART {
		return "uart"
	}
	return "tcp"
}

// Policy is the immutable, startup-configured allow-matrix between
// endpoint kinds. It is read-only after construction; the dispatcher holds
// one copy for the lifetime of the process.
type Policy struct {
	UARTToUART bool
	TCPToTCP   bool
	UARTToTCP  bool
	TCPToUART  bool
}

// DefaultPolicy matches the spec's documented defaults: vehicles never talk
// to each other directly, GCS clients do, and traffic crosses freely
// between the two kinds.
func DefaultPolicy() Policy {
	return Policy{
		UARTToUART: false,
		TCPToTCP:   true,
		UARTToTCP:  true,
		TCPToUART:  true,
	}
}

// Allows reports whether a frame arriving on a from-kind endpoint may be
// forwarded to a to-kind endpoint.
func (p Policy) Allows(from, to Kind) bool {
	switch {
	case from == KindUART && to == KindUART:
		return p.UARTToUART
	case from == KindTCP && to == KindTCP:
		return p.TCPToTCP
	case from == KindUART && to == KindTCP:
		return p.UARTToTCP
	case from == KindTCP && to == KindUART:
		return p.TCPToUART
	}
	return false
}
