package types

import (
	"encoding/json"
	"math"
	"time"

	"github.com/pkg/errors"
)

// Origin tells who authored a message.
type Origin string

const (
	OriginHuman     Origin = "human"
	OriginAssistant Origin = "ai"
)

func (o Origin) Valid() bool {
	return o == OriginHuman || o == OriginAssistant
}

// Timestamp is a point in time carried on the wire as unix seconds.
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC().Truncate(time.Second)}
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.IsZero() {
		return []byte("0"), nil
	}
	return json.Marshal(ts.Unix())
}

func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		ts.Time = time.Time{}
		return nil
	}

	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return errors.Wrap(err, "timestamp")
	}
	if secs == 0 {
		ts.Time = time.Time{}
		return nil
	}

	whole, frac := math.Modf(secs)
	ts.Time = time.Unix(int64(whole), int64(frac*1e9)).UTC()
	return nil
}

type Room struct {
	Id        int       `json:"id"`
	CreatedAt Timestamp `json:"createdAt"`
	Title     string    `json:"title"`
}

type Message struct {
	RoomId int    `json:"chatid"`
	Origin Origin `json:"type"`
	Body   string `json:"message"`
}
