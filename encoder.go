package objenc

// Encoder turns documents into bytes for the wire and back. The packages
// under encoders/ implement it on top of an ObjectEncoder, so any Go value
// can be sent.
type Encoder interface {
	// Encode serializes v into bytes.
	Encode(v any) ([]byte, error)

	// Decode deserializes data into v.
	Decode(data []byte, v any) error
}
