// Package kafka publishes chainstate notifications to a Kafka topic.
//
// Every message is keyed by the block hash or txid. The value starts with the event kind:
//
//	block events: kind(1) | height(4, LE) | hash(32) | fork hash(32, UpdatedBlockTip only)
//	BlockChecked: kind(1) | hash(32) | valid(1) | reject reason
//	tx events:    kind(1) | removal reason(1) | serialized transaction
package kafka

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/services/notifier"
	"github.com/bsv-blockchain/chainstate/ulogger"
	"github.com/bsv-blockchain/chainstate/util/kafka"
	batcher "github.com/bsv-blockchain/go-batcher"
)

const (
	// DefaultTxBatchSize and DefaultTxBatchDuration bound how long a transaction event waits
	// before it is sent.
	DefaultTxBatchSize     = 256
	DefaultTxBatchDuration = 50 * time.Millisecond

	closeTimeout = 10 * time.Second
)

// Publisher forwards notifier events to a producer. Block events are sent as they arrive;
// transaction events are batched and sent in order by a background worker.
type Publisher struct {
	logger    ulogger.Logger
	producer  kafka.KafkaProducerI
	withTxs   bool
	txBatcher *batcher.Batcher[kafka.Message]
	pending   sync.WaitGroup
}

// NewPublisher creates a publisher. Transaction events are only published when withTxs is set.
func NewPublisher(logger ulogger.Logger, producer kafka.KafkaProducerI, withTxs bool) *Publisher {
	return NewPublisherWithBatch(logger, producer, withTxs, DefaultTxBatchSize, DefaultTxBatchDuration)
}

// NewPublisherWithBatch creates a publisher sending transaction events in batches of up to
// batchSize, or whatever accumulated after batchDuration.
func NewPublisherWithBatch(logger ulogger.Logger, producer kafka.KafkaProducerI, withTxs bool, batchSize int, batchDuration time.Duration) *Publisher {
	p := &Publisher{
		logger:   logger,
		producer: producer,
		withTxs:  withTxs,
	}

	if withTxs {
		// batches are sent one at a time so events keep their order
		p.txBatcher = batcher.New[kafka.Message](batchSize, batchDuration, p.sendTxBatch, false)
	}

	return p
}

// Handle is a notifier.Handler. Send failures are logged; they never reach the chainstate.
func (p *Publisher) Handle(_ context.Context, event *notifier.Event) {
	isTx := event.Kind == notifier.TransactionAdded || event.Kind == notifier.TransactionRemoved
	if isTx && !p.withTxs {
		return
	}

	value, err := Encode(event)
	if err != nil {
		p.logger.Errorf("[Kafka] failed to encode %s %s: %v", event.Kind, event.Hash, err)
		return
	}

	if value == nil {
		return
	}

	if isTx {
		key := event.Hash

		p.pending.Add(1)
		p.txBatcher.Put(&kafka.Message{Key: key[:], Value: value})

		return
	}

	if err = p.producer.Send(event.Hash[:], value); err != nil {
		p.logger.Errorf("[Kafka] failed to publish %s %s: %v", event.Kind, event.Hash, err)
	}
}

func (p *Publisher) sendTxBatch(batch []*kafka.Message) {
	if len(batch) == 0 {
		return
	}

	defer p.pending.Add(-len(batch))

	if err := p.producer.SendBatch(batch); err != nil {
		p.logger.Errorf("[Kafka] failed to publish %d transaction events: %v", len(batch), err)
	}
}

// Flush sends the queued transaction events and waits for them, up to timeout. It reports
// whether everything queued was sent.
func (p *Publisher) Flush(timeout time.Duration) bool {
	if p.txBatcher == nil {
		return true
	}

	p.txBatcher.Trigger()

	done := make(chan struct{})

	go func() {
		p.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Close flushes the queued transaction events and closes the producer.
func (p *Publisher) Close() error {
	if !p.Flush(closeTimeout) {
		p.logger.Warnf("[Kafka] closing with transaction events still queued")
	}

	return p.producer.Close()
}

// Encode returns the message value for event, or nil for events that are not published.
func Encode(event *notifier.Event) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.WriteByte(byte(event.Kind))

	switch event.Kind {
	case notifier.BlockConnected, notifier.BlockDisconnected, notifier.UpdatedBlockTip:
		_ = binary.Write(buf, binary.LittleEndian, uint32(event.Height))
		buf.Write(event.Hash[:])

		if event.Kind == notifier.UpdatedBlockTip {
			buf.Write(event.ForkHash[:])
		}
	case notifier.BlockChecked:
		buf.Write(event.Hash[:])

		if event.Err == nil {
			buf.WriteByte(1)
			break
		}

		buf.WriteByte(0)

		if reject, ok := errors.GetReject(event.Err); ok {
			buf.WriteString(reject.Reason)
		}
	case notifier.TransactionAdded, notifier.TransactionRemoved:
		if event.Tx == nil {
			return nil, errors.NewInvalidArgumentError("%s event without a transaction", event.Kind)
		}

		buf.WriteByte(byte(event.Reason))

		if err := event.Tx.Serialize(buf); err != nil {
			return nil, errors.NewProcessingError("failed to serialize transaction %s", event.Hash, err)
		}
	default:
		return nil, nil
	}

	return buf.Bytes(), nil
}
