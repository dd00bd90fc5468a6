package node

import "fmt"

// RequestRejected is returned when the node API refuses an operation (a 4xx
// response). The node is alive; the request itself was invalid or not
// applicable in the node's current state.
type RequestRejected struct {
	Node   int
	Op     string
	Status int
	Body   string
}

func (e *RequestRejected) Error() string {
	return fmt.Sprintf("node %d: %s rejected with status %d: %s", e.Node, e.Op, e.Status, e.Body)
}

// Unreachable is returned when the node API cannot be reached at all.
type Unreachable struct {
	Node int
	Op   string
	Err  error
}

func (e *Unreachable) Error() string {
	return fmt.Sprintf("node %d: %s: node unreachable: %s", e.Node, e.Op, e.Err)
}

func (e *Unreachable) Unwrap() error { return e.Err }
