package httpapi

import (
	"errors"
	"io"
	"mime"
	"net/http"
)

// maxRequestBody caps request bodies in either encoding. A callback with a
// custom message stays well under 1 KiB.
const maxRequestBody = 4096

var errBodyTooLarge = errors.New("request body too large")

const contentTypeProtobuf = "application/x-protobuf"

var protobufTypes = map[string]bool{
	contentTypeProtobuf:        true,
	"application/protobuf":     true,
	"application/octet-stream": true,
}

// isProtobuf reports whether the body is protobuf. Relays send
// application/x-protobuf, sometimes with parameters.
func isProtobuf(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && protobufTypes[mt]
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxRequestBody {
		return nil, errBodyTooLarge
	}
	return body, nil
}

func writeProto(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", contentTypeProtobuf)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
