package bleve

import (
	"encoding/json"
	"time"
)

const bucketFiles = "files"

type fileMeta struct {
	Checksum  string `json:"checksum"`
	Title     string `json:"title"`
	IndexedAt int64  `json:"indexed_at"`
}

func encodeMeta(m fileMeta) ([]byte, error) {
	return json.Marshal(m)
}

func decodeMeta(data []byte) (fileMeta, error) {
	var m fileMeta
	err := json.Unmarshal(data, &m)
	return m, err
}

func nowUnix() int64 {
	return time.Now().Unix()
}
