// Package protocol implements the binary wire formats of the mesh protocol.
//
// This package handles packet framing, the deterministic packet fingerprint
// used for deduplication, and the TLV payload codecs (file transfer, sync
// request, verification handshake). All multi-byte integers are big-endian.
//
// Example:
//
//	pkt := &protocol.Packet{
//	    Type:      protocol.PacketBroadcast,
//	    TTL:       7,
//	    Timestamp: uint64(time.Now().UnixMilli()),
//	    SenderID:  sender,
//	    Payload:   []byte("hello mesh"),
//	}
//
//	data, err := pkt.Serialize()
//	if err != nil {
//	    log.Fatal(err)
//	}
package protocol
