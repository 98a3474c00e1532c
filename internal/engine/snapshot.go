package engine

import (
	"encoding/json"
	"time"

	"github.com/cryptonote-go/walletengine/internal/walleterr"
)

func timeNowUnix() int64 { return time.Now().Unix() }

func marshalSnapshot(s walletSnapshot) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.InternalError, "marshal wallet snapshot", err)
	}
	return data, nil
}

func unmarshalSnapshot(data []byte) (walletSnapshot, error) {
	var s walletSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return walletSnapshot{}, walleterr.Wrap(walleterr.InternalError, "unmarshal wallet snapshot", err)
	}
	return s, nil
}
