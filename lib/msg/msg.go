// Package msg defines the interface for different message brokers.
package msg

// Transfer directions as published to downstream consumers.
const (
	DirOutbound = "outbound"
	DirInbound  = "inbound"
)

// TransferEvent defines the message published when a transfer reaches a final
// ledger state, either created by this service or verified on chain.
type TransferEvent struct {
	Net    string `json:"net"`
	Hash   string `json:"hash"`
	Asset  string `json:"asset"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
	Status string `json:"status"`
	Dir    string `json:"dir"`
}

// MsgBroker publishes transfer events for downstream consumers (accounting,
// notifications).
type MsgBroker interface {
	Setup(interface{}) error
	Close() error

	PublishTransfer(net string, ev TransferEvent) error
}
