package ingress

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xrayfleet/xrayfleet/internal/service"
)

// flexBool tolerates the upstream's loose serialization: JSON booleans and
// the string forms "true"/"True"/"1" (and their negatives).
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case bool:
		*b = flexBool(x)
	case string:
		switch x {
		case "true", "True", "1":
			*b = true
		case "false", "False", "0":
			*b = false
		default:
			return fmt.Errorf("not a boolean: %q", x)
		}
	default:
		return fmt.Errorf("not a boolean: %v", v)
	}
	return nil
}

type enginePayload struct {
	Created string   `json:"created"`
	Running flexBool `json:"running"`
	UUID    string   `json:"uuid"`
	Addr    string   `json:"addr"`
}

// parseEngineInfo decodes an hset payload into the upsert command. The
// engine id comes from the notification key, never from the payload.
func parseEngineInfo(id uuid.UUID, raw []byte) (service.EngineInfo, error) {
	var p enginePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return service.EngineInfo{}, fmt.Errorf("decode engine payload: %w", err)
	}

	created, err := time.Parse(time.RFC3339, p.Created)
	if err != nil {
		return service.EngineInfo{}, fmt.Errorf("parse created %q: %w", p.Created, err)
	}
	if p.Addr == "" {
		return service.EngineInfo{}, fmt.Errorf("engine payload missing addr")
	}

	info := service.EngineInfo{
		ID:      id,
		Created: created,
		Running: bool(p.Running),
		Addr:    p.Addr,
	}
	if p.UUID != "" {
		key, err := uuid.Parse(p.UUID)
		if err != nil {
			return service.EngineInfo{}, fmt.Errorf("parse engine uuid %q: %w", p.UUID, err)
		}
		info.UUID = &key
	}
	return info, nil
}
