// Package amqp implements the message broker interface for AMQP compliant
// brokers (ie RabbitMQ).
package amqp

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"

	"github.com/custodia-tech/walletd/lib/msg"
)

// transfersExchange receives one message per finalized transfer, routed as
// <net>.<dir>.<hash>.
const transfersExchange = "transfers"

// Amqp implements a connection to a broker and a channel for reuse.
type Amqp struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// New instantiates a new amqp broker.
func New(uri string) (msg.MsgBroker, error) {
	r := Amqp{}

	var err error
	if r.conn, err = amqp.Dial(uri); err != nil {
		return &r, fmt.Errorf("cannot connect to broker: %w", err)
	}

	log.Info().Str("uri", uri).Msg("connected to message broker")

	return &r, nil
}

// Setup obtains an amqp channel and declares the transfers exchange.
func (r *Amqp) Setup(x interface{}) error {
	channel, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("cannot open channel: %w", err)
	}
	defer channel.Close()

	if err = channel.ExchangeDeclare(transfersExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("cannot declare exchange: %w", err)
	}

	return nil
}

// Close terminates gracefully the connection to the AMQP message broker.
func (r *Amqp) Close() error {
	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			log.Error().Err(err).Msg("error closing amqp channel")
		}

		r.ch = nil
	}

	return r.conn.Close()
}

// PublishTransfer publishes a transfer event to the transfers exchange.
func (r *Amqp) PublishTransfer(net string, ev msg.TransferEvent) error {
	jsonDoc, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("cannot marshal transfer event: %w", err)
	}

	// obtain channel if not present
	if r.ch == nil {
		if r.ch, err = r.conn.Channel(); err != nil {
			return fmt.Errorf("cannot open channel: %w", err)
		}
	}

	m := amqp.Publishing{
		Headers:     amqp.Table{"x-transfer-name": net + "." + ev.Hash},
		Body:        jsonDoc,
		ContentType: "application/json",
	}

	if err = r.ch.Publish(transfersExchange, net+"."+ev.Dir+"."+ev.Hash, false, false, m); err != nil {
		return fmt.Errorf("cannot publish transfer event: %w", err)
	}

	return nil
}
