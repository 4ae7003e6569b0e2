package types

// Event is a structured record of a state change produced by the node.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
