package psbtcheck

import "testing"

func TestValidateShapeRejectsGarbage(t *testing.T) {
	if err := ValidateShape([]byte("not a psbt at all")); err == nil {
		t.Error("expected error for non-PSBT bytes")
	}
}

func TestValidateShapeRejectsEmpty(t *testing.T) {
	if err := ValidateShape(nil); err == nil {
		t.Error("expected error for empty bytes")
	}
}
