// Package notify delivers order notifications through Kafka and consumes
// them on the other side.
package notify

import (
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/InnokentiyKim/Retail/internal/domain/event"
)

// Encode writes n as a JSON object.
func Encode(n event.Notification) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("event_id")
	e.Str(n.EventID.String())
	e.FieldStart("user_id")
	e.Int64(n.UserID)
	e.FieldStart("order_id")
	e.Int64(n.OrderID)
	e.FieldStart("state")
	e.Str(n.State)
	if n.Artifact != "" {
		e.FieldStart("artifact")
		e.Str(n.Artifact)
	}
	e.FieldStart("sent_at")
	e.Str(n.SentAt.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
	return e.Bytes()
}

// Decode parses a notification produced by Encode. Unknown fields are
// ignored.
func Decode(data []byte) (event.Notification, error) {
	var n event.Notification
	d := jx.DecodeBytes(data)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "event_id":
			s, err := d.Str()
			if err != nil {
				return err
			}
			n.EventID, err = uuid.Parse(s)
			return err
		case "user_id":
			v, err := d.Int64()
			n.UserID = v
			return err
		case "order_id":
			v, err := d.Int64()
			n.OrderID = v
			return err
		case "state":
			v, err := d.Str()
			n.State = v
			return err
		case "artifact":
			v, err := d.Str()
			n.Artifact = v
			return err
		case "sent_at":
			s, err := d.Str()
			if err != nil {
				return err
			}
			n.SentAt, err = time.Parse(time.RFC3339Nano, s)
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return event.Notification{}, errors.Wrap(err, "decode notification")
	}
	if n.OrderID == 0 || n.State == "" {
		return event.Notification{}, errors.New("notification without order id or state")
	}
	return n, nil
}

// Key is the partition key of n. Notifications of one order stay ordered.
func Key(n event.Notification) []byte {
	return strconv.AppendInt(nil, n.OrderID, 10)
}
