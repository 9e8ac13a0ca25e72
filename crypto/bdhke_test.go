package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

func TestHashToCurve(t *testing.T) {
	tests := []struct {
		message  string
		expected string
	}{
		{message: "0000000000000000000000000000000000000000000000000000000000000000",
			expected: "024cce997d3b518f739663b757deaec95bcd9473c30a14ac2fd04023a739d1a725"},
		{message: "0000000000000000000000000000000000000000000000000000000000000001",
			expected: "022e7158e11c9506f1aa4248bf531298daa7febd6194f003edcd9b93ade6253acf"},
		{message: "0000000000000000000000000000000000000000000000000000000000000002",
			expected: "026cdbe15362df59cd1dd3c9c11de8aedac2106eca69236ecd9fbe117af897be4f"},
	}

	for _, test := range tests {
		msgBytes, err := hex.DecodeString(test.message)
		if err != nil {
			t.Errorf("error decoding msg: %v", err)
		}

		pk, err := HashToCurve(msgBytes)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		hexStr := hex.EncodeToString(pk.SerializeCompressed())
		if hexStr != test.expected {
			t.Errorf("expected '%v' but got '%v' instead\n", test.expected, hexStr)
		}
	}
}

func TestHashToCurveDeterministic(t *testing.T) {
	secrets := [][]byte{[]byte("secret"), []byte(""), []byte("another secret")}
	seen := make(map[string]bool)

	for _, secret := range secrets {
		Y1, err := HashToCurve(secret)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		Y2, err := HashToCurve(secret)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !Y1.IsEqual(Y2) {
			t.Fatalf("hash to curve of '%s' is not deterministic", secret)
		}

		key := hex.EncodeToString(Y1.SerializeCompressed())
		if seen[key] {
			t.Fatalf("distinct secrets mapped to the same point %v", key)
		}
		seen[key] = true
	}
}

func TestBlindSignUnblindVerify(t *testing.T) {
	tests := []struct {
		secret         string
		blindingFactor string
		mintPrivKey    string
	}{
		{secret: "test_message",
			blindingFactor: "0000000000000000000000000000000000000000000000000000000000000001",
			mintPrivKey:    "0000000000000000000000000000000000000000000000000000000000000001",
		},
		{secret: "hello",
			blindingFactor: "6d7e0abffc83267de28ed8ecc8760f17697e51252e13333ba69b4ddad1f95d05",
			mintPrivKey:    "7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f7f",
		},
	}

	for _, test := range tests {
		rbytes, _ := hex.DecodeString(test.blindingFactor)
		kbytes, _ := hex.DecodeString(test.mintPrivKey)
		k := secp256k1.PrivKeyFromBytes(kbytes)

		B_, r, err := BlindMessage([]byte(test.secret), rbytes)
		if err != nil {
			t.Fatalf("unexpected error blinding message: %v", err)
		}

		C_ := SignBlindedMessage(B_, k)
		C := UnblindSignature(C_, r, k.PubKey())

		if !Verify([]byte(test.secret), k, C) {
			t.Errorf("unblinded signature for '%v' did not verify", test.secret)
		}

		if Verify([]byte(test.secret+"x"), k, C) {
			t.Errorf("signature verified for a different secret")
		}
	}
}

func TestBlindMessageWithUnitBlindingFactor(t *testing.T) {
	// with r = 1, B_ = Y + G
	rbytes, _ := hex.DecodeString("0000000000000000000000000000000000000000000000000000000000000001")
	B_, _, err := BlindMessage([]byte("test_message"), rbytes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	Y, _ := HashToCurve([]byte("test_message"))
	var ypoint, gpoint, sum secp256k1.JacobianPoint
	Y.AsJacobian(&ypoint)
	secp256k1.PrivKeyFromBytes(rbytes).PubKey().AsJacobian(&gpoint)
	secp256k1.AddNonConst(&ypoint, &gpoint, &sum)
	sum.ToAffine()
	expected := secp256k1.NewPublicKey(&sum.X, &sum.Y)

	if !B_.IsEqual(expected) {
		t.Errorf("expected '%x' but got '%x'", expected.SerializeCompressed(), B_.SerializeCompressed())
	}
}
