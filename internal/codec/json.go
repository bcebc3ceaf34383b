package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"eventdesk/internal/model"
)

func (c *Codec) encodeJSON(events []model.Event) ([]byte, error) {
	recs := make([]RawEventRecord, 0, len(events))
	for _, e := range events {
		recs = append(recs, FromEvent(e))
	}
	b, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("codec: encode json: %w", err)
	}
	return b, nil
}

// decodeJSON reads an array of records. Each element is decoded on its own
// so that one malformed record does not reject the document.
func (c *Codec) decodeJSON(data []byte) (DecodeResult, error) {
	var res DecodeResult
	if len(bytes.TrimSpace(data)) == 0 {
		return res, errors.New("codec: empty JSON body")
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return res, fmt.Errorf("codec: decode json: %w", err)
	}

	for i, msg := range raw {
		var rec RawEventRecord
		err := json.Unmarshal(msg, &rec)
		if err == nil {
			err = checkRecord(rec)
		}
		if err != nil {
			res.skip(i, rec.UID, err)
			continue
		}
		rec.Position = i
		res.Records = append(res.Records, rec)
	}
	return res, nil
}
