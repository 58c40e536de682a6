package nowpay

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"testing"
)

func TestCanonicalJSONSortsKeys(t *testing.T) {
	raw := []byte(`{"b": 2, "a": "x", "c": {"z": 1, "y": "w"}}`)
	got, err := CanonicalJSON(raw)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"a":"x","b":2,"c":{"y":"w","z":1}}`
	if string(got) != want {
		t.Fatalf("canonical = %s, want %s", got, want)
	}
}

func TestCanonicalJSONKeepsNumberLiterals(t *testing.T) {
	// 33.330 must not be re-rendered as 33.33; the sender signed the literal.
	raw := []byte(`{"pay_amount": 33.330}`)
	got, err := CanonicalJSON(raw)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if string(got) != `{"pay_amount":33.330}` {
		t.Fatalf("canonical = %s", got)
	}
}

func TestCanonicalJSONEscapesNonASCII(t *testing.T) {
	raw := []byte(`{"name": "Привет 😀"}`)
	got, err := CanonicalJSON(raw)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"name":"\u041f\u0440\u0438\u0432\u0435\u0442 \ud83d\ude00"}`
	if string(got) != want {
		t.Fatalf("canonical = %s, want %s", got, want)
	}
}

func TestVerifySignature(t *testing.T) {
	secret := "topsecret"
	body := []byte(`{"payment_status":"finished","order_id":"42-1700000000","actually_paid":50}`)

	canonical, err := CanonicalJSON(body)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(canonical)
	sig := hex.EncodeToString(mac.Sum(nil))

	if !VerifySignature(body, sig, secret) {
		t.Fatal("valid signature rejected")
	}
	if !VerifySignature(body, "  "+sig+" ", secret) {
		t.Fatal("signature with surrounding whitespace rejected")
	}
	if VerifySignature(body, sig, "othersecret") {
		t.Fatal("signature accepted with wrong secret")
	}
	if VerifySignature([]byte(`{"payment_status":"finished","order_id":"42-1700000000","actually_paid":500}`), sig, secret) {
		t.Fatal("signature accepted for tampered body")
	}
}

func TestVerifySignatureRejectsNonJSON(t *testing.T) {
	if VerifySignature([]byte("not json"), "deadbeef", "s") {
		t.Fatal("non-JSON body accepted")
	}
}
