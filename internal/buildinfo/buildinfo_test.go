package buildinfo

import "testing"

func TestCompatibleWithSameMajor(t *testing.T) {
	ok, err := CompatibleWith("1.2.3")
	if err != nil {
		t.Fatalf("CompatibleWith: %v", err)
	}
	if !ok {
		t.Fatal("expected 1.x to be compatible with 1.0.0")
	}
}

func TestCompatibleWithDifferentMajor(t *testing.T) {
	ok, err := CompatibleWith("2.0.0")
	if err != nil {
		t.Fatalf("CompatibleWith: %v", err)
	}
	if ok {
		t.Fatal("expected 2.0.0 to be incompatible with 1.x")
	}
}

func TestCompatibleWithMalformedVersion(t *testing.T) {
	if _, err := CompatibleWith("not-a-version"); err == nil {
		t.Fatal("expected an error for a malformed peer version")
	}
}
