// Package serializer converts admin RPC messages to and from bytes.
//
// Two implementations are provided:
//
//   - jsonSerializerImpl: human readable, the message type is encoded by name.
//     This is the default of the server and the admin CLI.
//
//   - gobSerializerImpl: Go's gob encoding. Larger for small messages but
//     cheaper to decode for stats responses.
//
// All serializers are stateless and safe for concurrent use.
//
// Usage:
//
//	s := serializer.NewJSONSerializer()
//	data, err := s.Serialize(*common.NewStatsRequest(false))
//	// ... send data ...
//	var resp common.Message
//	err = s.Deserialize(received, &resp)
package serializer
