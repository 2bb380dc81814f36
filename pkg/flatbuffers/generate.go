// Package flatbuffers holds the generated FlatBuffers bindings for the
// controller's wire envelope.
package flatbuffers

//go:generate flatc --go -o . ../../schemas/ott_message.fbs
