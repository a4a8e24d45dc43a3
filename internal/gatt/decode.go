package gatt

import (
	"encoding/hex"
	"time"

	"beaconscan/internal/model"
)

// Decoder turns a raw reading into its persisted form. No published decode
// table exists for the target beacons, so the default keeps the raw bytes.
// A vendor decoder should still fill RawData and Timestamp and put its
// interpreted values in Fields.
type Decoder func(model.CharacteristicReading) model.Payload

// HexDecoder records the payload as lower-case hex plus its capture time.
func HexDecoder(r model.CharacteristicReading) model.Payload {
	return model.Payload{
		RawData:   hex.EncodeToString(r.Raw),
		Timestamp: r.CapturedAt.UTC().Format(time.RFC3339Nano),
	}
}
