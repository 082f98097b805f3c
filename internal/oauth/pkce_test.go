package oauth

import "testing"

func TestVerifyS256KnownVector(t *testing.T) {
	// RFC 7636 Appendix B test vector.
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"

	if !VerifyS256(verifier, challenge) {
		t.Fatal("expected RFC 7636 vector to verify")
	}
}

func TestVerifyS256Mismatch(t *testing.T) {
	challenge := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"

	if VerifyS256("wrong-verifier", challenge) {
		t.Fatal("expected wrong verifier to fail")
	}
	if VerifyS256("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk", "wrong-challenge") {
		t.Fatal("expected wrong challenge to fail")
	}
}

func TestVerifyS256Roundtrip(t *testing.T) {
	verifier := "a]random/verifier_string.with"
	if !VerifyS256(verifier, ChallengeS256(verifier)) {
		t.Fatal("expected computed challenge to verify")
	}
}
