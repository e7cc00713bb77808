package loadgen

import "encoding/json"

// StorePayload is the body of POST /stores/.
type StorePayload struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// PayloadShape controls how creation payloads are generated.
type PayloadShape struct {
	NamePrefix   string
	NameLength   int
	DomainLength int
}

// DefaultPayloadShape produces store-<8 chars> and https://www.<5 chars>.com.
func DefaultPayloadShape() PayloadShape {
	return PayloadShape{
		NamePrefix:   "store-",
		NameLength:   8,
		DomainLength: 5,
	}
}

// NewStorePayload draws a fresh store from gen.
func (s PayloadShape) NewStorePayload(gen StringGenerator) StorePayload {
	return StorePayload{
		Name: s.NamePrefix + gen.String(s.NameLength),
		URL:  "https://www." + gen.String(s.DomainLength) + ".com",
	}
}

// JSON encodes the payload.
func (p StorePayload) JSON() ([]byte, error) {
	return json.Marshal(p)
}
