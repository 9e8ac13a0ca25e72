package crypto

import (
	"strings"
	"testing"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestGenerateKeyset(t *testing.T) {
	master, err := MasterKeyFromMnemonic(testMnemonic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	keyset, err := GenerateKeyset(master, "sat", 0, 0, 100)
	if err != nil {
		t.Fatalf("unexpected error generating keyset: %v", err)
	}

	if len(keyset.Keys) != maxOrder {
		t.Fatalf("expected %v keys but got %v", maxOrder, len(keyset.Keys))
	}
	if len(keyset.Id) != 16 || !strings.HasPrefix(keyset.Id, "00") {
		t.Fatalf("unexpected keyset id format '%v'", keyset.Id)
	}
	if _, err := keyset.Key(1 << 63); err != nil {
		t.Fatalf("expected key for largest amount: %v", err)
	}
	if _, err := keyset.Key(3); err == nil {
		t.Fatal("expected error for amount that is not a power of 2")
	}

	again, err := GenerateKeyset(master, "sat", 0, 0, 100)
	if err != nil {
		t.Fatalf("unexpected error generating keyset: %v", err)
	}
	if again.Id != keyset.Id {
		t.Fatalf("keyset derivation is not deterministic: '%v' != '%v'", again.Id, keyset.Id)
	}

	rotated, err := GenerateKeyset(master, "sat", 0, 1, 100)
	if err != nil {
		t.Fatalf("unexpected error generating keyset: %v", err)
	}
	if rotated.Id == keyset.Id {
		t.Fatal("keysets at different indexes should have different ids")
	}

	otherUnit, err := GenerateKeyset(master, "strk", 3, 0, 100)
	if err != nil {
		t.Fatalf("unexpected error generating keyset: %v", err)
	}
	if otherUnit.Id == keyset.Id {
		t.Fatal("keysets for different units should have different ids")
	}
}

func TestKeyManager(t *testing.T) {
	if _, err := NewKeyManager("not a valid mnemonic", nil); err != ErrInvalidMnemonic {
		t.Fatalf("expected '%v' but got '%v'", ErrInvalidMnemonic, err)
	}

	km, err := NewKeyManager(testMnemonic, []KeysetSpec{
		{Unit: "sat", UnitIdx: 0, Index: 0, Active: true},
		{Unit: "strk", UnitIdx: 3, Index: 0, Active: false},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	keysets := km.Keysets()
	if len(keysets) != 2 {
		t.Fatalf("expected 2 keysets but got %v", len(keysets))
	}

	for _, ks := range keysets {
		got, ok := km.Keyset(ks.Id)
		if !ok {
			t.Fatalf("keyset %v not found", ks.Id)
		}
		if got.Unit == "strk" && got.Active {
			t.Fatal("strk keyset should be inactive")
		}
		if got.Unit == "sat" {
			if !km.SetActive(got.Id, false) {
				t.Fatal("expected keyset to be updated")
			}
			if !got.Active {
				t.Fatal("previously returned keyset should not be mutated")
			}
			updated, _ := km.Keyset(got.Id)
			if updated.Active {
				t.Fatal("expected keyset to be inactive after update")
			}
		}
	}

	if km.SetActive("00ffffffffffffff", true) {
		t.Fatal("expected update of unknown keyset to fail")
	}
}
