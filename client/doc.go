// Package client drives command exchanges with a gateway over a Channel.
//
// A Session owns one connection at a time. Each command is marshalled,
// split into fragments by the protocol package and written to the channel
// with a pause between fragments. The reply is reassembled by a read loop
// and handed to the single outstanding Exchange.
//
//	sess := client.NewSession(ch, client.DefaultOptions())
//	if err := sess.Connect(ctx); err != nil {
//		return err
//	}
//
//	resp, err := sess.Do(ctx, protocol.ReadCommand(protocol.TypeServerConfig))
//
// Identifiers returned by the gateway, such as the device_id of a freshly
// created device, are remembered by the session and filled into later
// commands that depend on them.
package client
