package serializer

import (
	"bytes"
	"encoding/gob"

	"github.com/ValentinKolb/btcache/rpc/common"
	"github.com/ansel1/merry"
)

// NewGOBSerializer creates a new serializer using Go's binary gob format
func NewGOBSerializer() IRPCSerializer {
	return gobSerializerImpl{}
}

type gobSerializerImpl struct{}

func (gobSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return nil, merry.Prepend(err, "gob: serialize message")
	}
	return buf.Bytes(), nil
}

func (gobSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	// Reset the message, gob skips zero values
	*msg = common.Message{}
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(msg); err != nil {
		return merry.Prepend(err, "gob: deserialize message")
	}
	return nil
}
