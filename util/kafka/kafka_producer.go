// Package kafka publishes chainstate events to Kafka topics.
package kafka

import (
	"encoding/binary"
	"net/url"
	"strings"

	"github.com/IBM/sarama"
	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/bsv-blockchain/chainstate/util"
	safeconversion "github.com/bsv-blockchain/go-safe-conversion"
)

type KafkaProducerI interface {
	Send(key []byte, data []byte) error
	SendBatch(messages []*Message) error
	Close() error
}

// Message is one keyed value for SendBatch.
type Message struct {
	Key   []byte
	Value []byte
}

type SyncKafkaProducer struct {
	Producer   sarama.SyncProducer
	Topic      string
	Partitions int32
}

func (k *SyncKafkaProducer) Close() error {
	if err := k.Producer.Close(); err != nil {
		return errors.NewServiceError("failed to close Kafka producer", err)
	}

	return nil
}

// Send publishes data on the partition selected by the first four bytes of key. Keys are block
// hashes or txids, so the spread is uniform.
func (k *SyncKafkaProducer) Send(key []byte, data []byte) error {
	msg, err := k.message(key, data)
	if err != nil {
		return err
	}

	if _, _, err = k.Producer.SendMessage(msg); err != nil {
		return errors.NewServiceError("failed to send kafka message to topic %s", k.Topic, err)
	}

	return nil
}

// SendBatch publishes messages in order with a single produce request per broker.
func (k *SyncKafkaProducer) SendBatch(messages []*Message) error {
	if len(messages) == 0 {
		return nil
	}

	batch := make([]*sarama.ProducerMessage, 0, len(messages))

	for _, m := range messages {
		msg, err := k.message(m.Key, m.Value)
		if err != nil {
			return err
		}

		batch = append(batch, msg)
	}

	if err := k.Producer.SendMessages(batch); err != nil {
		return errors.NewServiceError("failed to send %d kafka messages to topic %s", len(batch), k.Topic, err)
	}

	return nil
}

func (k *SyncKafkaProducer) message(key []byte, data []byte) (*sarama.ProducerMessage, error) {
	if len(key) < 4 {
		return nil, errors.NewInvalidArgumentError("kafka key must be at least 4 bytes, got %d", len(key))
	}

	partitions := k.Partitions
	if partitions <= 0 {
		partitions = 1
	}

	partitionsUint32, err := safeconversion.Int32ToUint32(partitions)
	if err != nil {
		return nil, errors.NewInvalidArgumentError("kafka partitions %d", partitions, err)
	}

	partition, err := safeconversion.Uint32ToInt32(binary.LittleEndian.Uint32(key) % partitionsUint32)
	if err != nil {
		return nil, errors.NewInvalidArgumentError("kafka partition of key %x", key, err)
	}

	return &sarama.ProducerMessage{
		Topic:     k.Topic,
		Key:       sarama.ByteEncoder(key),
		Value:     sarama.ByteEncoder(data),
		Partition: partition,
	}, nil
}

// topicConfig is the topic a notifications URL asks for. Query parameters: partitions,
// replication, retention (ms), segment_bytes and flush_bytes.
type topicConfig struct {
	name       string
	detail     *sarama.TopicDetail
	flushBytes int
}

func parseTopicConfig(kafkaURL *url.URL) (*topicConfig, error) {
	name := strings.TrimPrefix(kafkaURL.Path, "/")
	if name == "" {
		return nil, errors.NewConfigurationError("kafka URL %s has no topic", kafkaURL.Redacted())
	}

	partitions := util.GetQueryParamInt(kafkaURL, "partitions", 1)
	if partitions <= 0 {
		return nil, errors.NewConfigurationError("kafka URL %s asks for %d partitions", kafkaURL.Redacted(), partitions)
	}

	retention := util.GetQueryParam(kafkaURL, "retention", "600000")
	segmentBytes := util.GetQueryParam(kafkaURL, "segment_bytes", "1073741824")

	return &topicConfig{
		name: name,
		detail: &sarama.TopicDetail{
			NumPartitions:     int32(partitions),
			ReplicationFactor: int16(util.GetQueryParamInt(kafkaURL, "replication", 1)),
			ConfigEntries: map[string]*string{
				"retention.ms":        &retention,
				"delete.retention.ms": &retention,
				"segment.ms":          &retention,
				"segment.bytes":       &segmentBytes,
			},
		},
		flushBytes: util.GetQueryParamInt(kafkaURL, "flush_bytes", 1024),
	}, nil
}

// NewKafkaProducer creates the topic named by the URL path if needed and connects a sync
// producer to the comma separated brokers of the URL host.
func NewKafkaProducer(kafkaURL *url.URL) (sarama.ClusterAdmin, KafkaProducerI, error) {
	topic, err := parseTopicConfig(kafkaURL)
	if err != nil {
		return nil, nil, err
	}

	brokers := strings.Split(kafkaURL.Host, ",")

	config := sarama.NewConfig()
	config.Version = sarama.V2_1_0_0

	clusterAdmin, err := sarama.NewClusterAdmin(brokers, config)
	if err != nil {
		return nil, nil, errors.NewServiceError("error while creating cluster admin", err)
	}

	if err = clusterAdmin.CreateTopic(topic.name, topic.detail, false); err != nil && !errors.Is(err, sarama.ErrTopicAlreadyExists) {
		_ = clusterAdmin.Close()
		return nil, nil, errors.NewServiceError("failed to create kafka topic %s", topic.name, err)
	}

	producer, err := ConnectProducer(brokers, topic.name, topic.detail.NumPartitions, topic.flushBytes)
	if err != nil {
		_ = clusterAdmin.Close()
		return nil, nil, errors.NewServiceError("unable to connect to kafka", err)
	}

	return clusterAdmin, producer, nil
}

func ConnectProducer(brokersURL []string, topic string, partitions int32, flushBytes ...int) (KafkaProducerI, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Partitioner = sarama.NewManualPartitioner

	flush := 16 * 1024
	if len(flushBytes) > 0 {
		flush = flushBytes[0]
	}

	config.Producer.Flush.Bytes = flush

	conn, err := sarama.NewSyncProducer(brokersURL, config)
	if err != nil {
		return nil, err
	}

	return &SyncKafkaProducer{
		Producer:   conn,
		Partitions: partitions,
		Topic:      topic,
	}, nil
}
