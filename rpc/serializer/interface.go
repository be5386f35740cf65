package serializer

import "github.com/ValentinKolb/btcache/rpc/common"

// IRPCSerializer is the interface for all admin message serializers
type IRPCSerializer interface {
	// Serialize serializes a Message into a byte array
	Serialize(msg common.Message) ([]byte, error)
	// Deserialize deserializes a byte array into msg
	Deserialize(b []byte, msg *common.Message) error
}

// ByName returns the serializer with the given name ("json" or "gob")
func ByName(name string) (IRPCSerializer, bool) {
	switch name {
	case "json":
		return NewJSONSerializer(), true
	case "gob":
		return NewGOBSerializer(), true
	default:
		return nil, false
	}
}
