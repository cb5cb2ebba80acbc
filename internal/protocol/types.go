package protocol

// MsgType identifies one wire message kind. The value travels as the second
// header byte of every frame.
type MsgType uint8

const (
	MsgAck               MsgType = 0x00
	MsgBet               MsgType = 0x01
	MsgEndOfTransmission MsgType = 0x02
	MsgWinnersQuery      MsgType = 0x03
	MsgWinnersResponse   MsgType = 0x04
)

func (t MsgType) String() string {
	switch t {
	case MsgAck:
		return "ACK"
	case MsgBet:
		return "BET"
	case MsgEndOfTransmission:
		return "END_OF_TRANSMISSION"
	case MsgWinnersQuery:
		return "WINNERS_QUERY"
	case MsgWinnersResponse:
		return "WINNERS_RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// Bet is one wagered record tied to an agency. Created on decode, immutable
// afterwards. Field contents are opaque text: the codec checks arity only,
// so a non-numeric Number is carried as-is and simply never wins.
type Bet struct {
	Agency    uint8
	FirstName string
	LastName  string
	Document  string
	Birthdate string
	Number    string
}
