// ABOUTME: Boundary decoding for message metadata arriving as raw JSON
// ABOUTME: Rejects unknown attachment kinds instead of passing them through

package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownMetadataKind is returned when inbound metadata carries a key
// outside the closed union (imageUrl, buttons).
var ErrUnknownMetadataKind = errors.New("unknown metadata kind")

// ParseMetadata decodes raw JSON metadata, rejecting unknown keys.
// A null or empty payload yields zero metadata.
func ParseMetadata(raw json.RawMessage) (Metadata, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Metadata{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var md Metadata
	if err := dec.Decode(&md); err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrUnknownMetadataKind, err)
	}
	if err := md.Validate(); err != nil {
		return Metadata{}, err
	}
	return md, nil
}
