package protocol

// This package implements framing and parsing for the protocol gwlink uses to
// talk to gateway peripherals over links that can only carry a handful of
// bytes per write (BLE GATT characteristics, in practice).
//
// - `Command` - A controller instruction to the gateway, a JSON object.
// - `Response` - The gateway's JSON reply to a command, or an unsolicited
//                data push while streaming.
// - `Fragment` - One transport write, at most `DefaultFragmentSize` bytes.
// - `Sentinel` - The literal `<END>`, written on its own after the last
//                fragment of a message.
//
// === Framing
//
// A message is the compact JSON encoding of a command or response. It is cut
// into fragments of at most C bytes (18 by default) and each fragment is sent
// as one write. After the last fragment the sender writes `<END>`:
//
//   ```
//     > {"op":"read","typ
//     > e":"server_config"
//     > }
//     > <END>
//   ```
//
// The receiver appends fragments to a buffer until it sees `<END>`, then parses
// the buffer and starts over with an empty one. Fragments are concatenated as
// raw bytes, so a multi-byte UTF-8 rune split across two writes survives.
//
// There are no message ids. The link is half-duplex with respect to
// exchanges: a controller sends one command and the next complete message
// that is not a data push is its response.
//
// === Commands
//
//   ```
//     {"op":"read","type":"server_config"}
//     {"op":"update","type":"logging_config","config":{"logging_ret":"1w"}}
//     {"op":"create","type":"device","config":{...}}
//     {"op":"create","type":"register","device_id":"D1a2b3c","config":{...}}
//     {"op":"delete","type":"register","device_id":"D1a2b3c","register_id":"R4d5e6f"}
//     {"op":"read","type":"data","device":"D1a2b3c"}
//     {"op":"read","type":"data","device":"stop"}
//   ```
//
// === Responses
//
//   ```
//     {"status":"ok","device_id":"D1a2b3c"}
//     {"status":"error","message":"Device not found"}
//     {"status":"data","data":{"device_id":"D1a2b3c","name":"TEMP","value":21}}
//   ```
//
// A buffer that is not valid JSON when `<END>` arrives is reported as a
// ParseError. The buffer is cleared regardless, so the next message is parsed
// from a clean slate.
