package transport

import (
	"dynamokv/internal/coordinator"
	"dynamokv/internal/vclock"
	"dynamokv/internal/version"
)

// Most coordinator.Message variants are already plain JSON-able structs —
// only GetRsp and SyncKey carry a *version.Set, which hides its sibling
// list behind an unexported field, and the client-reply relay needs one
// envelope shape that can carry any of the three terminal variants. These
// are the only wire types this package needs.

type valueWire struct {
	Data  string       `json:"data"`
	Clock vclock.Clock `json:"clock"`
}

func setToWire(s *version.Set) []valueWire {
	if s == nil {
		return nil
	}
	vs := s.Versions()
	out := make([]valueWire, len(vs))
	for i, v := range vs {
		out[i] = valueWire{Data: v.Data, Clock: v.Clock}
	}
	return out
}

func setFromWire(ws []valueWire) *version.Set {
	vs := make([]version.Value, len(ws))
	for i, w := range ws {
		vs[i] = version.Value{Data: w.Data, Clock: w.Clock}
	}
	return version.NewSetFrom(vs...)
}

type getRspWire struct {
	From  string      `json:"from"`
	To    string      `json:"to"`
	Key   string      `json:"key"`
	Values []valueWire `json:"values"`
	MsgID uint64      `json:"msgId"`
}

func encodeGetRsp(m coordinator.GetRsp) getRspWire {
	return getRspWire{From: m.From, To: m.To, Key: m.Key, Values: setToWire(m.Values), MsgID: m.MsgID}
}

func decodeGetRsp(w getRspWire) coordinator.GetRsp {
	return coordinator.GetRsp{From: w.From, To: w.To, Key: w.Key, Values: setFromWire(w.Values), MsgID: w.MsgID}
}

type syncKeyWire struct {
	From   string      `json:"from"`
	To     string      `json:"to"`
	Key    string      `json:"key"`
	Values []valueWire `json:"values"`
}

func encodeSyncKey(m coordinator.SyncKey) syncKeyWire {
	return syncKeyWire{From: m.From, To: m.To, Key: m.Key, Values: setToWire(m.Values)}
}

func decodeSyncKey(w syncKeyWire) coordinator.SyncKey {
	return coordinator.SyncKey{From: w.From, To: w.To, Key: w.Key, Values: setFromWire(w.Values)}
}

// clientReplyWire is the relay envelope for POST /internal/clientreply: a
// terminal client-facing message being handed back to the node that holds
// the waiter for it, tagged by kind since the three variants don't share a
// Go type.
type clientReplyWire struct {
	Kind       string         `json:"kind"`
	Key        string         `json:"key"`
	RequestID  string         `json:"requestId"`
	ClientAddr string         `json:"clientAddr"`
	Values     []string       `json:"values,omitempty"`
	Metadata   []vclock.Clock `json:"metadata,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

func encodeClientReply(msg coordinator.Message) (clientReplyWire, bool) {
	switch m := msg.(type) {
	case coordinator.ClientPutRsp:
		return clientReplyWire{Kind: "put", Key: m.Key, RequestID: m.RequestID, ClientAddr: m.ClientAddr}, true
	case coordinator.ClientGetRsp:
		return clientReplyWire{
			Kind: "get", Key: m.Key, RequestID: m.RequestID, ClientAddr: m.ClientAddr,
			Values: m.Values, Metadata: m.Metadata,
		}, true
	case coordinator.ClientErrorRsp:
		return clientReplyWire{
			Kind: "error", Key: m.Key, RequestID: m.RequestID, ClientAddr: m.ClientAddr,
			Reason: m.Reason,
		}, true
	}
	return clientReplyWire{}, false
}

func decodeClientReply(w clientReplyWire) coordinator.Message {
	switch w.Kind {
	case "put":
		return coordinator.ClientPutRsp{Key: w.Key, RequestID: w.RequestID, ClientAddr: w.ClientAddr}
	case "get":
		return coordinator.ClientGetRsp{
			Key: w.Key, RequestID: w.RequestID, ClientAddr: w.ClientAddr,
			Values: w.Values, Metadata: w.Metadata,
		}
	default:
		return coordinator.ClientErrorRsp{Key: w.Key, RequestID: w.RequestID, ClientAddr: w.ClientAddr, Reason: w.Reason}
	}
}
