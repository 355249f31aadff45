package kafka

import (
	"context"
	"encoding/json"

	kafka "github.com/segmentio/kafka-go"

	"fortune-wheel/internal/models"
)

type Topics struct {
	TicketMinted    string
	RaffleCompleted string
}

// Producer streams raffle lifecycle events. Publishing is best effort; the
// callers log failures and continue.
type Producer struct {
	Writer *kafka.Writer
	Topics Topics
}

func NewProducer(brokers []string, topics Topics) *Producer {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.LeastBytes{},
	}
	return &Producer{Writer: writer, Topics: topics}
}

func (p *Producer) PublishTicketMinted(ticket models.Ticket) error {
	msgBytes, err := json.Marshal(ticket)
	if err != nil {
		return err
	}
	return p.Writer.WriteMessages(context.Background(),
		kafka.Message{
			Topic: p.Topics.TicketMinted,
			Key:   []byte(ticket.TicketID),
			Value: msgBytes,
		},
	)
}

func (p *Producer) PublishRaffleCompleted(raffle models.Raffle) error {
	msgBytes, err := json.Marshal(raffle)
	if err != nil {
		return err
	}
	return p.Writer.WriteMessages(context.Background(),
		kafka.Message{
			Topic: p.Topics.RaffleCompleted,
			Key:   []byte(raffle.RoundID),
			Value: msgBytes,
		},
	)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
