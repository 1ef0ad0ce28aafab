package factual

import (
	"encoding/json"

	"cogmem/internal/model"
)

func marshalMetadata(m model.Metadata) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalMetadata(s string, out *model.Metadata) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), out)
}
