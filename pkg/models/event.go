package models

import "encoding/json"

// StorageEvent is the envelope the bucket notifier places on the queue, one
// per newly created object. Only the object key matters to the worker; any
// message that does not decode into this shape is noise and gets dropped.
type StorageEvent struct {
	Detail struct {
		Object struct {
			Key string `json:"key"`
		} `json:"object"`
	} `json:"detail"`
}

// ParseStorageEvent decodes a raw queue message body.
func ParseStorageEvent(body string) (*StorageEvent, error) {
	var ev StorageEvent
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		return nil, ErrEventParseFailed
	}
	if ev.Detail.Object.Key == "" {
		return nil, ErrNoObjectKey
	}
	return &ev, nil
}
