package types

// Encodable is implemented by every object the durable store can persist.
// Encodings are canonical: the same value always produces the same bytes.
type Encodable interface {
	MarshalNomad() ([]byte, error)
}

// Decodable is implemented by every object the durable store can load.
// A failed decode of stored bytes indicates data corruption and is treated
// as fatal by callers.
type Decodable interface {
	UnmarshalNomad(data []byte) error
}
