package protocol

import (
	"fmt"
	"strings"
)

// BET payload shape: records separated by newline, fields separated by
// comma, in the order first_name, last_name, national_id, birth_date,
// number. The agency id rides in the frame header, not in the record.
const (
	fieldSep  = ","
	recordSep = "\n"
	betFields = 5
)

// ParseBets decodes a BET payload owned by agency into records. A single
// trailing record separator is tolerated and stripped. Any record that does
// not split into exactly betFields fields aborts the whole batch with
// ErrWrongPayloadFormat: no partial acceptance. An empty payload is a valid
// empty batch.
func ParseBets(agency uint8, payload string) ([]Bet, error) {
	payload = strings.TrimSuffix(payload, recordSep)
	if payload == "" {
		return nil, nil
	}

	records := strings.Split(payload, recordSep)
	bets := make([]Bet, 0, len(records))
	for _, record := range records {
		fields := strings.Split(record, fieldSep)
		if len(fields) != betFields {
			return nil, fmt.Errorf("%w: record has %d fields, want %d",
				ErrWrongPayloadFormat, len(fields), betFields)
		}
		bets = append(bets, Bet{
			Agency:    agency,
			FirstName: fields[0],
			LastName:  fields[1],
			Document:  fields[2],
			Birthdate: fields[3],
			Number:    fields[4],
		})
	}
	return bets, nil
}

// FormatBets encodes records into one BET payload, the inverse of ParseBets.
func FormatBets(bets []Bet) string {
	var b strings.Builder
	for _, bet := range bets {
		b.WriteString(bet.FirstName)
		b.WriteString(fieldSep)
		b.WriteString(bet.LastName)
		b.WriteString(fieldSep)
		b.WriteString(bet.Document)
		b.WriteString(fieldSep)
		b.WriteString(bet.Birthdate)
		b.WriteString(fieldSep)
		b.WriteString(bet.Number)
		b.WriteString(recordSep)
	}
	return b.String()
}
