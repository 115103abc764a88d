package seamless

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FlexString accepts a JSON string or number and keeps its text.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	*f = FlexString(data)
	return nil
}

func (f FlexString) String() string { return string(f) }

// Unix parses a numeric unix timestamp. Empty, zero and non-numeric values
// yield nil.
func (f FlexString) Unix() *time.Time {
	secs, err := strconv.ParseInt(strings.TrimSpace(string(f)), 10, 64)
	if err != nil || secs <= 0 {
		return nil
	}
	t := time.Unix(secs, 0).UTC()
	return &t
}

// Request is the pushbetdata webhook body.
type Request struct {
	OperatorCode string     `json:"operator_code"`
	RequestTime  FlexString `json:"request_time"`
	Sign         string     `json:"sign"`
	Wagers       []Wager    `json:"wagers"`
}

// Wager is one provider wager record. Raw keeps the record exactly as sent.
type Wager struct {
	ID             FlexString      `json:"id"`
	MemberAccount  string          `json:"member_account"`
	Currency       string          `json:"currency"`
	ProductCode    json.Number     `json:"product_code"`
	GameCode       string          `json:"game_code"`
	GameType       string          `json:"game_type"`
	ChannelCode    string          `json:"channel_code"`
	WagerCode      string          `json:"wager_code"`
	WagerType      string          `json:"wager_type"`
	WagerStatus    string          `json:"wager_status"`
	BetAmount      decimal.Decimal `json:"bet_amount"`
	ValidBetAmount decimal.Decimal `json:"valid_bet_amount"`
	PrizeAmount    decimal.Decimal `json:"prize_amount"`
	TipAmount      decimal.Decimal `json:"tip_amount"`
	CreatedAt      FlexString      `json:"created_at"`
	SettledAt      FlexString      `json:"settled_at"`

	Raw json.RawMessage `json:"-"`
}

func (w *Wager) UnmarshalJSON(data []byte) error {
	type plain Wager
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*w = Wager(p)
	w.Raw = append(json.RawMessage(nil), data...)
	return nil
}

func (w Wager) productCode() int64 {
	n, err := w.ProductCode.Int64()
	if err != nil {
		return 0
	}
	return n
}
