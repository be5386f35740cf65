package serializer

import (
	"encoding/json"

	"github.com/ValentinKolb/btcache/rpc/common"
	"github.com/ansel1/merry"
)

// NewJSONSerializer creates a new serializer using json encoding
func NewJSONSerializer() IRPCSerializer {
	return jsonSerializerImpl{}
}

type jsonSerializerImpl struct{}

func (jsonSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, merry.Prepend(err, "json: serialize message")
	}
	return b, nil
}

func (jsonSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	// Reset the message, json leaves absent fields untouched
	*msg = common.Message{}
	if err := json.Unmarshal(b, msg); err != nil {
		return merry.Prepend(err, "json: deserialize message")
	}
	return nil
}
