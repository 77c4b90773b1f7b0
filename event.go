package bridge

import "github.com/st-keller/register-bridge/registers"

// TimestampLayout formats change timestamps (local time, second resolution).
const TimestampLayout = "2006-01-02 15:04:05"

// ChangeEvent is a reported register change. It is handled once and never queued.
type ChangeEvent struct {
	Snapshot  registers.Snapshot
	Timestamp string
}

// Message renders the stored value: "[v0, v1, ...]_YYYY-MM-DD HH:MM:SS".
func (e ChangeEvent) Message() string {
	return e.Snapshot.String() + "_" + e.Timestamp
}
