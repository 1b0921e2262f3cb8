package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validConfig() *AppConfig {
	return &AppConfig{
		CosignerXpubs:    []string{"xpub0", "xpub1", "xpub2", "xpub3"},
		ThresholdColored: 3,
		ThresholdVanilla: 3,
		RootPublicKey:    strings.Repeat("ab", 32),
		RgbLibVersion:    "0.3",
	}
}

func TestLoadMissingFileReturnsMissingConfigFile(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
	if !strings.Contains(err.Error(), "configuration file is missing") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadParsesValidTOML(t *testing.T) {
	dir := t.TempDir()
	contents := `
cosigner_xpubs = ["xpub0", "xpub1", "xpub2", "xpub3"]
threshold_colored = 3
threshold_vanilla = 3
root_public_key = "` + strings.Repeat("ab", 32) + `"
rgb_lib_version = "0.3"
`
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.CosignerXpubs) != 4 {
		t.Errorf("expected 4 cosigners, got %d", len(cfg.CosignerXpubs))
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestValidateRejectsTooFewCosigners(t *testing.T) {
	cfg := validConfig()
	cfg.CosignerXpubs = []string{"xpub0"}
	if err := Validate(cfg); err == nil {
		t.Error("expected error for fewer than 2 cosigners")
	}
}

func TestValidateRejectsZeroThreshold(t *testing.T) {
	cfg := validConfig()
	cfg.ThresholdVanilla = 0
	if err := Validate(cfg); err == nil {
		t.Error("expected error for zero threshold")
	}
}

func TestValidateRejectsThresholdExceedingCosignerCount(t *testing.T) {
	cfg := validConfig()
	cfg.ThresholdColored = 5
	if err := Validate(cfg); err == nil {
		t.Error("expected error for threshold exceeding cosigner count")
	}
}

func TestValidateRejectsInvalidRootKey(t *testing.T) {
	cfg := validConfig()
	cfg.RootPublicKey = "not-hex"
	if err := Validate(cfg); err == nil {
		t.Error("expected error for invalid root key")
	}

	cfg2 := validConfig()
	cfg2.RootPublicKey = strings.Repeat("ab", 31) // one byte short
	if err := Validate(cfg2); err == nil {
		t.Error("expected error for short root key")
	}
}

func TestValidateRejectsInvalidRgbLibVersion(t *testing.T) {
	tests := []string{"0.4", "0.2", "1.0", "garbage", "0", "0.3.1"}
	for _, v := range tests {
		cfg := validConfig()
		cfg.RgbLibVersion = v
		if err := Validate(cfg); err == nil {
			t.Errorf("expected error for rgb_lib_version %q", v)
		}
	}
}

func TestValidateAcceptsCompatibleRgbLibVersion(t *testing.T) {
	cfg := validConfig()
	cfg.RgbLibVersion = "0.3"
	if err := Validate(cfg); err != nil {
		t.Errorf("expected 0.3 to validate, got %v", err)
	}
}

func TestXpubIndexMapsAssignOneBasedIndices(t *testing.T) {
	byXpub, byIdx := XpubIndexMaps([]string{"xpub0", "xpub1"})
	if byXpub["xpub0"] != 1 || byXpub["xpub1"] != 2 {
		t.Errorf("unexpected byXpub map: %+v", byXpub)
	}
	if byIdx[1] != "xpub0" || byIdx[2] != "xpub1" {
		t.Errorf("unexpected byIdx map: %+v", byIdx)
	}
}
