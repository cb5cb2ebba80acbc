package server

import (
	"bufio"
	"errors"
	"io"
	"net"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/lotteryd/internal/protocol"
	"github.com/danmuck/lotteryd/internal/protocol/frame"
)

// handleConn runs the per-connection state machine: read one frame, dispatch
// by type, loop. The connection closes on handler exit except when a winners
// query parks it, in which case the coordinator owns it from then on.
func (s *Service) handleConn(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	active := s.clientCount.Add(1)
	log.Debug().Str("remote", remote).Int64("active", active).Msg("agency connected")

	parked := false
	defer func() {
		if !parked {
			conn.Close()
		}
		s.untrackConn(conn)
		remaining := s.clientCount.Add(-1)
		log.Debug().Str("remote", remote).Int64("active", remaining).Msg("agency disconnected")
	}()

	reader := bufio.NewReader(conn)
	for {
		fr, err := frame.ReadFrame(reader, s.limits)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				log.Debug().Str("remote", remote).Msg("connection closed")
			} else {
				log.Error().
					Err(err).
					Str("remote", remote).
					Str("action", "receive_message").
					Str("result", "fail").
					Msg("dropping connection")
			}
			return
		}

		switch protocol.MsgType(fr.Type) {
		case protocol.MsgBet:
			if !s.handleBet(conn, fr) {
				return
			}
		case protocol.MsgEndOfTransmission:
			if !s.handleEOT(conn, fr) {
				return
			}
		case protocol.MsgWinnersQuery:
			s.handleQuery(conn, fr)
			parked = true
			return
		default:
			log.Warn().
				Uint8("type", fr.Type).
				Uint8("agency", fr.Sender).
				Str("remote", remote).
				Msg("ignoring unknown message type")
		}
	}
}

// handleBet decodes and persists one BET batch. A batch that fails to parse
// or persist gets no ACK and drops the connection; the store is untouched.
func (s *Service) handleBet(conn net.Conn, fr frame.Frame) bool {
	agency := fr.Sender
	bets, err := protocol.ParseBets(agency, string(fr.Payload))
	if err != nil {
		log.Error().
			Err(err).
			Uint8("agency", agency).
			Str("action", "receive_bets").
			Str("result", "fail").
			Msg("rejecting bet batch")
		return false
	}
	if err := s.coord.AppendBets(agency, bets); err != nil {
		log.Error().
			Err(err).
			Uint8("agency", agency).
			Str("action", "bets_stored").
			Str("result", "fail").
			Msg("persist failed, no ack sent")
		return false
	}
	log.Info().
		Uint8("agency", agency).
		Int("count", len(bets)).
		Str("action", "bets_stored").
		Str("result", "success").
		Msg("bet batch stored")
	return s.sendAck(conn, agency)
}

func (s *Service) handleEOT(conn net.Conn, fr frame.Frame) bool {
	agency := fr.Sender
	log.Info().
		Uint8("agency", agency).
		Str("action", "eot_received").
		Str("result", "success").
		Msg("agency finished sending bets")
	s.coord.MarkCompleted(agency)
	return s.sendAck(conn, agency)
}

// handleQuery acknowledges receipt and hands the socket to the coordinator,
// which answers it now (cached result) or once the barrier fires.
func (s *Service) handleQuery(conn net.Conn, fr frame.Frame) {
	agency := fr.Sender
	log.Info().
		Uint8("agency", agency).
		Str("action", "winners_query_received").
		Str("result", "success").
		Msg("parking winners query")
	if !s.sendAck(conn, agency) {
		// Broken socket: park it anyway, the answer path closes it.
		log.Warn().Uint8("agency", agency).Msg("query ack failed")
	}
	s.coord.RegisterQuery(agency, conn)
}

func (s *Service) sendAck(conn net.Conn, agency uint8) bool {
	f := frame.Frame{Sender: s.cfg.ServerID, Type: uint8(protocol.MsgAck)}
	if err := frame.WriteFrame(conn, f, s.limits); err != nil {
		log.Warn().Err(err).Uint8("agency", agency).Msg("write ack")
		return false
	}
	return true
}
