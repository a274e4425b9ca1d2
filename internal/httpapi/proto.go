package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Body limits. A delegate call is a handful of fields; an events batch can
// carry a few thousand logs.
const (
	maxDelegateBody = 64 << 10
	maxEventsBody   = 8 << 20
	maxAdminBody    = 1 << 20
)

var errBodyTooLarge = errors.New("request body too large")

// isProtobuf returns true if the request's Content-Type indicates a
// protobuf payload. Controllers that speak protobuf send a
// google.protobuf.Struct carrying the same fields as the JSON body.
func isProtobuf(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return ct == "application/x-protobuf" ||
		ct == "application/protobuf" ||
		ct == "application/octet-stream"
}

func readBody(r *http.Request, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, errBodyTooLarge
	}
	return body, nil
}

// readHardwareJSON returns the request body as JSON, transcoding a protobuf
// Struct when the controller sent one.
func readHardwareJSON(r *http.Request, limit int64) ([]byte, error) {
	body, err := readBody(r, limit)
	if err != nil {
		return nil, err
	}
	if !isProtobuf(r) {
		return body, nil
	}
	var st structpb.Struct
	if err := proto.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("decode protobuf struct: %w", err)
	}
	return protojson.Marshal(&st)
}

// writeProto marshals msg and writes it with the given HTTP status.
func writeProto(w http.ResponseWriter, status int, msg proto.Message) {
	data, err := proto.Marshal(msg)
	if err != nil {
		http.Error(w, "proto marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-protobuf")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeHardware answers in the encoding the controller used.
func writeHardware(w http.ResponseWriter, r *http.Request, status int, fields map[string]any, jsonBody any) {
	if !isProtobuf(r) {
		writeJSON(w, status, jsonBody)
		return
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		http.Error(w, "proto encode error", http.StatusInternalServerError)
		return
	}
	writeProto(w, status, st)
}
