package validation

import "testing"

func TestValidateOptionsRejectsEmptyPath(t *testing.T) {
	opts := Options{WriteBufferSize: 1, L0FilesThreshold: 1, NumLevel0TableToCompact: 1, MaxBlockKVPairs: 16}
	if err := ValidateOptions(&opts); err == nil {
		t.Fatal("expected an error for an empty Path")
	}
}

func TestValidateOptionsRejectsZeroWriteBuffer(t *testing.T) {
	opts := Options{Path: "/tmp/kvlite", L0FilesThreshold: 1, NumLevel0TableToCompact: 1, MaxBlockKVPairs: 16}
	if err := ValidateOptions(&opts); err == nil {
		t.Fatal("expected an error for a zero WriteBufferSize")
	}
}

func TestValidateOptionsAcceptsWellFormedValues(t *testing.T) {
	opts := Options{
		Path:                    "/tmp/kvlite",
		WriteBufferSize:         4 << 20,
		L0FilesThreshold:        4,
		NumLevel0TableToCompact: 4,
		MaxBlockKVPairs:         16,
	}
	if err := ValidateOptions(&opts); err != nil {
		t.Fatalf("unexpected error for well-formed options: %v", err)
	}
}

func TestValidateOptionsRejectsNil(t *testing.T) {
	if err := ValidateOptions(nil); err == nil {
		t.Fatal("expected an error for nil options")
	}
}

func TestValidateOptionsRejectsNonPowerOfTwoBlockSize(t *testing.T) {
	opts := Options{
		Path:                    "/tmp/kvlite",
		WriteBufferSize:         4 << 20,
		L0FilesThreshold:        4,
		NumLevel0TableToCompact: 4,
		MaxBlockKVPairs:         15,
	}
	if err := ValidateOptions(&opts); err == nil {
		t.Fatal("expected an error for a non-power-of-two MaxBlockKVPairs")
	}
}

func TestValidateOptionsRejectsOversizedBlock(t *testing.T) {
	opts := Options{
		Path:                    "/tmp/kvlite",
		WriteBufferSize:         4 << 20,
		L0FilesThreshold:        4,
		NumLevel0TableToCompact: 4,
		MaxBlockKVPairs:         4096, // a power of two, but past the bound
	}
	if err := ValidateOptions(&opts); err == nil {
		t.Fatal("expected an error for MaxBlockKVPairs over its bound")
	}
}

func TestValidateOptionsRejectsOversizedCompactionBatch(t *testing.T) {
	opts := Options{
		Path:                    "/tmp/kvlite",
		WriteBufferSize:         4 << 20,
		L0FilesThreshold:        4,
		NumLevel0TableToCompact: 1000,
		MaxBlockKVPairs:         16,
	}
	if err := ValidateOptions(&opts); err == nil {
		t.Fatal("expected an error for NumLevel0TableToCompact over its bound")
	}
}
