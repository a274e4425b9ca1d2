package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FlexString accepts a JSON string or number. Controllers are inconsistent
// about quoting identifiers.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("flex string: %w", err)
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string { return string(f) }

// FlexInt accepts a JSON number or a numeric string. Anything else decodes
// to zero with Valid=false rather than failing the whole payload.
type FlexInt struct {
	Value int64
	Valid bool
}

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*f = FlexInt{}
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
	}
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*f = FlexInt{Value: n, Valid: true}
		return nil
	}
	if fl, err := strconv.ParseFloat(s, 64); err == nil {
		*f = FlexInt{Value: int64(fl), Valid: true}
	}
	return nil
}

func (f FlexInt) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(f.Value, 10)), nil
}

// DelegateRequest is what a turnstile controller sends when a badge or QR
// code is presented. Raw keeps the verbatim body for forensic replay.
type DelegateRequest struct {
	KeyHex      FlexString      `json:"keyHex"`
	EmpID       FlexString      `json:"empid"`
	Direction   FlexInt         `json:"direction"`
	AccessPoint FlexString      `json:"accessPoint"`
	Raw         json.RawMessage `json:"-"`
}

type DelegateResponse struct {
	Allow   bool   `json:"allow"`
	Message string `json:"message,omitempty"`
}

// PassageLog is one hardware passage record. Only the fields this service
// relies on are typed; the full object is retained in Raw.
type PassageLog struct {
	LogID         FlexInt         `json:"logId"`
	Time          FlexInt         `json:"time"`
	EmpID         FlexString      `json:"empId"`
	InternalEmpID FlexString      `json:"internalEmpId"`
	AccessPoint   FlexString      `json:"accessPoint"`
	Direction     FlexInt         `json:"direction"`
	KeyHex        FlexString      `json:"keyHex"`
	Raw           json.RawMessage `json:"-"`
}

func (p *PassageLog) UnmarshalJSON(b []byte) error {
	type plain PassageLog
	var v plain
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*p = PassageLog(v)
	p.Raw = append(json.RawMessage(nil), b...)
	return nil
}

type EventsRequest struct {
	Logs []PassageLog `json:"logs"`
}

type EventsResponse struct {
	ConfirmedLogID *int64 `json:"confirmedLogId"`
}
