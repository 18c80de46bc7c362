// Package eventsource adapts the login event stream to the detection core.
package eventsource

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/BradenHooton/tripwire/internal/models"
)

// Decode parses one stream payload into a LoginEvent.
//
// Missing optional fields stay zero. Field values are not validated here:
// an empty ip or an unknown status is left for the detector to ignore.
func Decode(payload []byte) (*models.LoginEvent, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", models.ErrInvalidEvent)
	}

	var event models.LoginEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidEvent, err)
	}

	return &event, nil
}

// Encode serializes an event the way the login web app publishes it.
func Encode(event *models.LoginEvent) ([]byte, error) {
	return json.Marshal(event)
}
