package execution

import (
	"bytes"
	"encoding/gob"

	"github.com/zigquant/engine/internal/domain"
)

// encodeOrder/decodeOrder serialize a single Order for StateStore.AppendEvent,
// whose payload format is left to the caller. gob mirrors the
// encoding internal/checkpoint and internal/events.Log already use for the
// same domain types.
func encodeOrder(order *domain.Order) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(order); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeOrder(payload []byte) (*domain.Order, error) {
	var order domain.Order
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&order); err != nil {
		return nil, err
	}
	return &order, nil
}
