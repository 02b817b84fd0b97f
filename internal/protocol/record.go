package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// ChatRecord is the payload of a server-origin message envelope.
type ChatRecord struct {
	From    string `json:"from"`
	Message string `json:"message"`
	Time    int64  `json:"time,omitempty"`
}

// NewChatRecord stamps a record with t in epoch milliseconds.
func NewChatRecord(from, message string, t time.Time) ChatRecord {
	return ChatRecord{From: from, Message: message, Time: t.UnixMilli()}
}

// EncodeRecord serializes the record for nesting inside an envelope's data field.
func EncodeRecord(rec ChatRecord) string {
	out, _ := json.Marshal(rec)
	return string(out)
}

// DecodeRecord parses a nested chat record.
func DecodeRecord(data string) (ChatRecord, error) {
	var rec ChatRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return ChatRecord{}, fmt.Errorf("%w: chat record: %v", ErrDecode, err)
	}
	return rec, nil
}
