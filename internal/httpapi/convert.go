package httpapi

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/types"
)

// Field numbers of the relay's AuthorizationCallback message.
const (
	cbFieldPhone         protowire.Number = 1
	cbFieldUnit          protowire.Number = 2
	cbFieldSpokenName    protowire.Number = 3
	cbFieldDecision      protowire.Number = 4
	cbFieldCustomMessage protowire.Number = 5
)

// Field numbers of CallbackResponse.
const (
	respFieldOK        protowire.Number = 1
	respFieldMatched   protowire.Number = 2
	respFieldSessionID protowire.Number = 3
	respFieldMatchedBy protowire.Number = 4
	respFieldApplied   protowire.Number = 5
)

// ── Callback ─────────────────────────────────────────────────────────────────

// callbackFromProto decodes a protobuf AuthorizationCallback. Unknown
// fields are skipped; string fields with the wrong wire type are errors.
func callbackFromProto(b []byte) (types.AuthorizationCallback, error) {
	var cb types.AuthorizationCallback
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return cb, protowire.ParseError(n)
		}
		b = b[n:]

		switch num {
		case cbFieldPhone, cbFieldUnit, cbFieldSpokenName, cbFieldDecision, cbFieldCustomMessage:
			if typ != protowire.BytesType {
				return cb, fmt.Errorf("field %d: unexpected wire type %d", num, typ)
			}
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return cb, protowire.ParseError(n)
			}
			b = b[n:]
			switch num {
			case cbFieldPhone:
				cb.Phone = v
			case cbFieldUnit:
				cb.Unit = v
			case cbFieldSpokenName:
				cb.SpokenName = v
			case cbFieldDecision:
				cb.Decision = types.Decision(v)
			case cbFieldCustomMessage:
				cb.CustomMessage = v
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return cb, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return cb, nil
}

// callbackToProto encodes a callback; the relay fake in tests uses it.
func callbackToProto(cb types.AuthorizationCallback) []byte {
	var b []byte
	b = appendString(b, cbFieldPhone, cb.Phone)
	b = appendString(b, cbFieldUnit, cb.Unit)
	b = appendString(b, cbFieldSpokenName, cb.SpokenName)
	b = appendString(b, cbFieldDecision, string(cb.Decision))
	b = appendString(b, cbFieldCustomMessage, cb.CustomMessage)
	return b
}

func callbackResponseToProto(r types.CallbackResponse) []byte {
	var b []byte
	b = appendBool(b, respFieldOK, r.OK)
	b = appendBool(b, respFieldMatched, r.Matched)
	b = appendString(b, respFieldSessionID, r.SessionID)
	b = appendString(b, respFieldMatchedBy, r.MatchedBy)
	b = appendBool(b, respFieldApplied, r.Applied)
	return b
}

// proto3 omits zero values.
func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}
