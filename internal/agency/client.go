// Package agency implements the client side of the lottery protocol: stream
// bet batches from a CSV file, declare end of transmission, then wait for
// the deferred winners response.
package agency

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/lotteryd/internal/protocol"
	"github.com/danmuck/lotteryd/internal/protocol/frame"
)

// DefaultBatchSize keeps a full batch comfortably under 8 kB with the field
// sizes the bets files carry.
const DefaultBatchSize = 100

// Bets file column order: first_name, last_name, national_id, birth_date,
// number. The agency id comes from configuration, not the file.
const betColumns = 5

type Config struct {
	ID            uint8
	ServerAddress string
	BetsPath      string
	BatchSize     int
}

type Client struct {
	cfg    Config
	limits frame.Limits
}

func New(cfg Config) *Client {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Client{cfg: cfg, limits: frame.DefaultLimits()}
}

// Run plays one full agency session over a single connection and returns
// this agency's winner count. Canceling ctx closes the socket, which also
// unblocks the final wait for the deferred response.
func (c *Client) Run(ctx context.Context) (int, error) {
	conn, err := net.Dial("tcp", c.cfg.ServerAddress)
	if err != nil {
		return 0, fmt.Errorf("agency: connect %s: %w", c.cfg.ServerAddress, err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	reader := bufio.NewReader(conn)

	if err := c.sendBets(ctx, conn, reader); err != nil {
		return 0, err
	}

	if err := c.transact(conn, reader, protocol.MsgEndOfTransmission, nil); err != nil {
		return 0, fmt.Errorf("agency: end of transmission: %w", err)
	}
	log.Info().
		Uint8("agency", c.cfg.ID).
		Str("action", "eot_sent").
		Str("result", "success").
		Msg("all bets sent")

	if err := c.transact(conn, reader, protocol.MsgWinnersQuery, nil); err != nil {
		return 0, fmt.Errorf("agency: winners query: %w", err)
	}
	log.Info().
		Uint8("agency", c.cfg.ID).
		Str("action", "query_winners").
		Str("result", "in_progress").
		Msg("waiting for lottery result")

	fr, err := frame.ReadFrame(reader, c.limits)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("agency: winners response: %w", err)
	}
	if protocol.MsgType(fr.Type) != protocol.MsgWinnersResponse {
		return 0, fmt.Errorf("%w: got %s, want WINNERS_RESPONSE",
			protocol.ErrUnexpectedMessage, protocol.MsgType(fr.Type))
	}
	count, err := strconv.Atoi(string(fr.Payload))
	if err != nil {
		return 0, fmt.Errorf("agency: winners payload %q: %w", fr.Payload, err)
	}
	return count, nil
}

// sendBets streams the bets file in batches, expecting one ACK per batch.
func (c *Client) sendBets(ctx context.Context, conn net.Conn, reader *bufio.Reader) error {
	f, err := os.Open(c.cfg.BetsPath)
	if err != nil {
		return fmt.Errorf("agency: open bets file: %w", err)
	}
	defer f.Close()

	records := csv.NewReader(f)
	records.FieldsPerRecord = betColumns

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := c.nextBatch(records)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		payload := []byte(protocol.FormatBets(batch))
		if err := c.transact(conn, reader, protocol.MsgBet, payload); err != nil {
			return fmt.Errorf("agency: bet batch: %w", err)
		}
		log.Info().
			Uint8("agency", c.cfg.ID).
			Int("count", len(batch)).
			Str("action", "send_batch").
			Str("result", "success").
			Msg("bet batch acknowledged")
	}
}

func (c *Client) nextBatch(records *csv.Reader) ([]protocol.Bet, error) {
	batch := make([]protocol.Bet, 0, c.cfg.BatchSize)
	for len(batch) < c.cfg.BatchSize {
		row, err := records.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("agency: read bets file: %w", err)
		}
		batch = append(batch, protocol.Bet{
			Agency:    c.cfg.ID,
			FirstName: row[0],
			LastName:  row[1],
			Document:  row[2],
			Birthdate: row[3],
			Number:    row[4],
		})
	}
	return batch, nil
}

// transact writes one frame and consumes the server's ACK.
func (c *Client) transact(conn net.Conn, reader *bufio.Reader, t protocol.MsgType, payload []byte) error {
	f := frame.Frame{Sender: c.cfg.ID, Type: uint8(t), Payload: payload}
	if err := frame.WriteFrame(conn, f, c.limits); err != nil {
		return err
	}
	ack, err := frame.ReadFrame(reader, c.limits)
	if err != nil {
		return err
	}
	if protocol.MsgType(ack.Type) != protocol.MsgAck {
		return fmt.Errorf("%w: got %s, want ACK",
			protocol.ErrUnexpectedMessage, protocol.MsgType(ack.Type))
	}
	return nil
}
