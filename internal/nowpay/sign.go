package nowpay

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// CanonicalJSON re-serializes a JSON object with sorted keys, compact
// separators and non-ASCII characters escaped as \uXXXX, matching the form
// NOWPayments signs. Number literals are kept verbatim so re-serialization
// cannot drift from the sender's rendering.
func CanonicalJSON(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(body); err != nil {
		return nil, fmt.Errorf("canonicalize body: %w", err)
	}
	return escapeNonASCII(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// escapeNonASCII rewrites runes above 0x7F as \uXXXX escapes, with surrogate
// pairs for runes outside the basic plane. Non-ASCII only occurs inside
// string literals of the compact encoding, so a flat rewrite is safe.
func escapeNonASCII(in []byte) []byte {
	ascii := true
	for _, b := range in {
		if b >= utf8.RuneSelf {
			ascii = false
			break
		}
	}
	if ascii {
		return in
	}

	var out bytes.Buffer
	out.Grow(len(in))
	for i := 0; i < len(in); {
		r, size := utf8.DecodeRune(in[i:])
		i += size
		if r < utf8.RuneSelf {
			out.WriteByte(byte(r))
			continue
		}
		if r <= 0xFFFF {
			fmt.Fprintf(&out, `\u%04x`, r)
			continue
		}
		hi, lo := utf16.EncodeRune(r)
		fmt.Fprintf(&out, `\u%04x\u%04x`, hi, lo)
	}
	return out.Bytes()
}

// Sign computes the hex HMAC-SHA512 of the canonicalized body.
func Sign(rawBody []byte, secret string) (string, error) {
	canonical, err := CanonicalJSON(rawBody)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifySignature checks the IPN signature against the canonicalized body.
func VerifySignature(rawBody []byte, signature, secret string) bool {
	expected, err := Sign(rawBody, secret)
	if err != nil {
		return false
	}
	got := strings.ToLower(strings.TrimSpace(signature))
	return hmac.Equal([]byte(expected), []byte(got))
}
