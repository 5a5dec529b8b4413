package sqlcgen

import "time"

type TagDownload struct {
	ID             string
	Source         string
	Label          string
	StartTime      time.Time
	EndTime        time.Time
	DailyStartSecs int32
	DailyEndSecs   int32
	Configuration  []byte
	ByteCount      int32
	EntryCount     int32
	DownloadedAt   time.Time
}

type TagLogEntry struct {
	DownloadID string
	Seq        int32
	LoggedAt   time.Time
	Payload    []byte
}
