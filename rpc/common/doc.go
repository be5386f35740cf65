// Package common holds the types shared by the admin client and server.
//
//   - Message: one structure for all requests and responses. Which fields
//     are set depends on MsgType; factory functions build valid messages.
//
//   - MessageType: stats, evict, alert and resize plus the generic success
//     and error types. It is encoded by name in JSON.
//
//   - ServerConfig and ClientConfig: settings of the admin server and its
//     clients, both printable for startup logs.
//
//   - CreateLogger and InitLoggers: a logrus backed factory for dragonboats
//     logger registry, which every package of the module logs through.
package common
