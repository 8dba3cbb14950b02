package codec

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// DefaultCharset is what CCU gateways use for BIN-RPC strings.
const DefaultCharset = "ISO-8859-1"

// lookupCharset resolves an IANA charset name. A nil encoding means UTF-8,
// which needs no transcoding.
func lookupCharset(name string) (encoding.Encoding, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "UTF-8", "UTF8":
		return nil, nil
	case "":
		name = DefaultCharset
	}

	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("codec: unknown charset %q: %w", name, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("codec: charset %q is not supported", name)
	}
	return enc, nil
}

// encodeString converts s to the wire charset. Runes the charset cannot
// represent are replaced rather than failing the whole call.
func encodeString(enc encoding.Encoding, s string) ([]byte, error) {
	if enc == nil {
		return []byte(s), nil
	}
	b, err := encoding.ReplaceUnsupported(enc.NewEncoder()).Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("codec: encode string: %w", err)
	}
	return b, nil
}

func decodeString(enc encoding.Encoding, b []byte) (string, error) {
	if enc == nil {
		return string(b), nil
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("%w: decode string: %v", ErrMalformed, err)
	}
	return string(out), nil
}
