package pagination

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/danielhendel/oli-sub001/internal/canon"
)

// Codec turns cursors into opaque, signed strings.
type Codec struct {
	secret []byte
}

// NewCodec returns a Codec signing with secret.
func NewCodec(secret []byte) *Codec {
	return &Codec{secret: secret}
}

// signedCursor is the signed body. Scope names the query the cursor was
// issued for.
type signedCursor struct {
	Scope string `json:"scope"`
	Sort  string `json:"s"`
	ID    string `json:"id"`
}

// Encode returns base64url(canonical JSON) "." base64url(HMAC-SHA256).
// The cursor only decodes again under the same scope.
func (c *Codec) Encode(scope string, cur Cursor) (string, error) {
	data, err := canon.Serialize(signedCursor{Scope: scope, Sort: cur.Sort, ID: cur.ID})
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	body := base64.RawURLEncoding.EncodeToString(data)
	return body + "." + base64.RawURLEncoding.EncodeToString(c.sign(body)), nil
}

// Decode verifies and parses a cursor string issued under scope.
// Every failure wraps ErrInvalidCursor.
func (c *Codec) Decode(scope, s string) (Cursor, error) {
	body, sig, ok := strings.Cut(s, ".")
	if !ok || body == "" || sig == "" {
		return Cursor{}, fmt.Errorf("%w: malformed", ErrInvalidCursor)
	}
	mac, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: signature encoding", ErrInvalidCursor)
	}
	if !hmac.Equal(mac, c.sign(body)) {
		return Cursor{}, fmt.Errorf("%w: signature mismatch", ErrInvalidCursor)
	}
	data, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: body encoding", ErrInvalidCursor)
	}

	var sc signedCursor
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sc); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if sc.Scope != scope {
		return Cursor{}, fmt.Errorf("%w: issued for another query", ErrInvalidCursor)
	}
	if sc.ID == "" {
		return Cursor{}, fmt.Errorf("%w: empty id", ErrInvalidCursor)
	}
	return Cursor{Sort: sc.Sort, ID: sc.ID}, nil
}

// DecodeOptional decodes s, returning nil for an empty string.
func (c *Codec) DecodeOptional(scope, s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	cur, err := c.Decode(scope, s)
	if err != nil {
		return nil, err
	}
	return &cur, nil
}

func (c *Codec) sign(body string) []byte {
	h := hmac.New(sha256.New, c.secret)
	h.Write([]byte(body))
	return h.Sum(nil)
}
