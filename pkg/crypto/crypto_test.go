package crypto

import "testing"

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("belle")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "belle" {
		t.Fatal("hash must not equal the password")
	}
	if !VerifyPassword("belle", hash) {
		t.Fatal("correct password rejected")
	}
	if VerifyPassword("gaston", hash) {
		t.Fatal("wrong password accepted")
	}
	if VerifyPassword("belle", "") {
		t.Fatal("empty hash accepted")
	}
}

func TestGenerateRandomString(t *testing.T) {
	a, err := GenerateRandomString(12)
	if err != nil {
		t.Fatalf("GenerateRandomString: %v", err)
	}
	b, _ := GenerateRandomString(12)
	if len(a) != 16 {
		t.Fatalf("len = %d, want 16", len(a))
	}
	if a == b {
		t.Fatal("two random strings collided")
	}
}
