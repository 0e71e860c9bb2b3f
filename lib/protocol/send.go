package protocol

import "github.com/darenliang/gridstats-go/lib/interfaces"

// PackMessage builds the frames for a router reply addressed to destination.
func PackMessage(destination string, msgType interfaces.Stringer, payload interfaces.Serializable) [][]byte {
	return append([][]byte{[]byte(destination), []byte(msgType.String())}, payload.Serialize()...)
}

// PackRequest builds the frames a dealer sends; the router adds the identity frame.
func PackRequest(msgType interfaces.Stringer, payload interfaces.Serializable) [][]byte {
	return append([][]byte{[]byte(msgType.String())}, payload.Serialize()...)
}
