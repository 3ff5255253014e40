// Package session owns the encoding of charging sessions into booking
// comments and the queries that reconstruct sessions from the ledger.
// No other package may encode or decode comment JSON.
package session

import (
	"encoding/json"
	"errors"

	"chargebridge/internal/models"
)

// Record kinds written as an explicit discriminant into every comment.
// Comments written by earlier deployments carry no kind; decoding falls back
// to schema shape for those.
const (
	recordKindStart = "start"
	recordKindEnd   = "end"
)

// Decode failure modes, each reported distinctly.
var (
	ErrNoComment      = errors.New("booking has no comment")
	ErrCommentNotJSON = errors.New("booking comment is not JSON")
	ErrCommentSchema  = errors.New("booking comment matches no session schema")
)

// StartRecord is the session metadata written when a session opens.
type StartRecord struct {
	ChargerID                 string
	UserIDStarted             string
	UserEmailStarted          string
	Membership                models.Membership
	TotalEnergyWattHoursStart float64
}

// EndRecord extends the start metadata when a session closes. UserIDEnded and
// UserEmailEnded are nil for system-initiated stops.
type EndRecord struct {
	StartRecord
	UserIDEnded             *string
	UserEmailEnded          *string
	TotalEnergyWattHoursEnd float64
	EnergyWattHoursUsed     float64
	Price                   string
}

// startWire is the exact comment JSON shape of an open session.
type startWire struct {
	Kind                      string   `json:"kind,omitempty"`
	ChargerID                 string   `json:"chargerId"`
	CobotUserIDStarted        string   `json:"cobotUserIdStarted"`
	CobotUserEmailStarted     string   `json:"cobotUserEmailStarted"`
	CobotMembershipID         *string  `json:"cobotMembershipId"`
	TotalEnergyWattHoursStart *float64 `json:"totalEnergyWattHoursStart"`
}

// endWire is the exact comment JSON shape of a closed session.
type endWire struct {
	startWire
	CobotUserIDEnded        *string  `json:"cobotUserIdEnded"`
	CobotUserEmailEnded     *string  `json:"cobotUserEmailEnded"`
	TotalEnergyWattHoursEnd *float64 `json:"totalEnergyWattHoursEnd"`
	EnergyWattHoursUsed     *float64 `json:"energyWattHoursUsed"`
	Price                   *string  `json:"price"`
}

// EncodeStart serializes a start record for the booking comment field.
func EncodeStart(rec StartRecord) (string, error) {
	start := rec.wire()
	data, err := json.MarshalIndent(start, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// EncodeEnd serializes an end record for the booking comment field.
func EncodeEnd(rec EndRecord) (string, error) {
	end := endWire{
		startWire:               rec.StartRecord.wire(),
		CobotUserIDEnded:        rec.UserIDEnded,
		CobotUserEmailEnded:     rec.UserEmailEnded,
		TotalEnergyWattHoursEnd: &rec.TotalEnergyWattHoursEnd,
		EnergyWattHoursUsed:     &rec.EnergyWattHoursUsed,
		Price:                   &rec.Price,
	}
	end.Kind = recordKindEnd
	data, err := json.MarshalIndent(end, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (r StartRecord) wire() startWire {
	return startWire{
		Kind:                      recordKindStart,
		ChargerID:                 r.ChargerID,
		CobotUserIDStarted:        r.UserIDStarted,
		CobotUserEmailStarted:     r.UserEmailStarted,
		CobotMembershipID:         r.Membership.Ptr(),
		TotalEnergyWattHoursStart: &r.TotalEnergyWattHoursStart,
	}
}

func (w startWire) record() StartRecord {
	return StartRecord{
		ChargerID:                 w.ChargerID,
		UserIDStarted:             w.CobotUserIDStarted,
		UserEmailStarted:          w.CobotUserEmailStarted,
		Membership:                models.MembershipFromPtr(w.CobotMembershipID),
		TotalEnergyWattHoursStart: *w.TotalEnergyWattHoursStart,
	}
}

func (w startWire) valid() bool {
	return w.CobotUserIDStarted != "" && w.TotalEnergyWattHoursStart != nil
}

func (w endWire) valid() bool {
	return w.startWire.valid() &&
		w.TotalEnergyWattHoursEnd != nil &&
		w.EnergyWattHoursUsed != nil &&
		w.Price != nil
}

// DecodeStart parses a comment as a start record. Used when specifically
// looking for open sessions; a comment carrying an end record fails the
// schema check here.
func DecodeStart(comment *string) (*StartRecord, error) {
	raw, err := commentBytes(comment)
	if err != nil {
		return nil, err
	}

	var end endWire
	if err := json.Unmarshal(raw, &end); err != nil {
		return nil, ErrCommentSchema
	}
	if end.Kind == recordKindEnd || (end.Kind == "" && end.valid()) {
		return nil, ErrCommentSchema
	}
	if !end.startWire.valid() {
		return nil, ErrCommentSchema
	}
	rec := end.startWire.record()
	return &rec, nil
}

// DecodeRecord parses a comment as either record shape, trying end first so
// that closed sessions are recognized, falling back to start for sessions
// still open.
func DecodeRecord(comment *string) (*StartRecord, *EndRecord, error) {
	raw, err := commentBytes(comment)
	if err != nil {
		return nil, nil, err
	}

	var end endWire
	if err := json.Unmarshal(raw, &end); err != nil {
		return nil, nil, ErrCommentSchema
	}

	if end.valid() && end.Kind != recordKindStart {
		rec := EndRecord{
			StartRecord:             end.startWire.record(),
			UserIDEnded:             end.CobotUserIDEnded,
			UserEmailEnded:          end.CobotUserEmailEnded,
			TotalEnergyWattHoursEnd: *end.TotalEnergyWattHoursEnd,
			EnergyWattHoursUsed:     *end.EnergyWattHoursUsed,
			Price:                   *end.Price,
		}
		return nil, &rec, nil
	}

	if end.startWire.valid() {
		rec := end.startWire.record()
		return &rec, nil, nil
	}

	return nil, nil, ErrCommentSchema
}

func commentBytes(comment *string) ([]byte, error) {
	if comment == nil || *comment == "" {
		return nil, ErrNoComment
	}
	raw := []byte(*comment)
	if !json.Valid(raw) {
		return nil, ErrCommentNotJSON
	}
	return raw, nil
}
