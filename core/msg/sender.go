package msg

// Sender delivers market messages to brokers. Delivery failure is the
// implementation's concern; the core never retries.
type Sender interface {
	// Send delivers a message to a single broker.
	Send(broker string, message any) error

	// Broadcast delivers a message to every connected broker. Used for
	// tariff publication.
	Broadcast(message any) error
}

// NopSender discards all messages.
type NopSender struct{}

func (NopSender) Send(string, any) error { return nil }
func (NopSender) Broadcast(any) error    { return nil }
