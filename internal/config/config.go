// Package config loads and validates the daemon's config.toml, following the
// struct-with-tags / LoadConfig shape this project's lineage uses for its own
// (YAML) node configuration, adapted to TOML and to this domain's fields.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/opsbridge/msigbridge/internal/apperror"
	"github.com/opsbridge/msigbridge/pkg/hashutil"
)

// ConfigFileName is the fixed name of the configuration file inside the app directory.
const ConfigFileName = "config.toml"

// MinCosigners is the minimum number of cosigners a deployment must configure.
const MinCosigners = 2

// MinRgbLibVersion and MaxRgbLibVersion bound the accepted rgb_lib_version range.
const (
	MinRgbLibVersion = "0.3"
	MaxRgbLibVersion = "0.3"
)

// AppConfig is the on-disk shape of config.toml.
type AppConfig struct {
	CosignerXpubs        []string `toml:"cosigner_xpubs"`
	ThresholdColored     uint8    `toml:"threshold_colored"`
	ThresholdVanilla     uint8    `toml:"threshold_vanilla"`
	RootPublicKey        string   `toml:"root_public_key"`
	RgbLibVersion        string   `toml:"rgb_lib_version"`
	StrictPsbtShapeCheck bool     `toml:"strict_psbt_shape_check"`
	LogLevel             string   `toml:"log_level"`
}

// Path returns the expected config.toml path inside appDir.
func Path(appDir string) string {
	return filepath.Join(appDir, ConfigFileName)
}

// Load reads and parses config.toml from appDir. A missing file is a hard
// startup error: unlike the teacher's own config loader, this daemon never
// synthesizes a default configuration, since the cosigner set, thresholds and
// root key have no safe defaults.
func Load(appDir string) (*AppConfig, error) {
	path := Path(appDir)

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, apperror.MissingConfigFile(path)
		}
		return nil, apperror.IO(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperror.IO(err)
	}

	cfg := &AppConfig{LogLevel: "info"}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, apperror.Config(err)
	}

	return cfg, nil
}

// Validate checks every field of cfg against its documented constraints,
// returning the first violation found as a typed startup error.
func Validate(cfg *AppConfig) error {
	n := len(cfg.CosignerXpubs)
	if n < MinCosigners || hasDuplicateXpub(cfg.CosignerXpubs) {
		return apperror.InvalidCosignerNumber(n)
	}

	if cfg.ThresholdVanilla == 0 || int(cfg.ThresholdVanilla) > n {
		return apperror.InvalidThreshold(fmt.Sprintf("threshold_vanilla must be > 0 and <= %d", n))
	}
	if cfg.ThresholdColored == 0 || int(cfg.ThresholdColored) > n {
		return apperror.InvalidThreshold(fmt.Sprintf("threshold_colored must be > 0 and <= %d", n))
	}

	if _, err := hashutil.DecodeHex32(cfg.RootPublicKey); err != nil {
		return apperror.InvalidRootKey()
	}

	return validateRgbLibVersion(cfg.RgbLibVersion)
}

func hasDuplicateXpub(xpubs []string) bool {
	seen := make(map[string]bool, len(xpubs))
	for _, x := range xpubs {
		if seen[x] {
			return true
		}
		seen[x] = true
	}
	return false
}

// parsedVersion is a strict "major.minor" version, each component numeric.
type parsedVersion struct {
	major, minor int
}

func parseVersion(s string) (parsedVersion, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return parsedVersion{}, fmt.Errorf("expected 'major.minor', got '%s'", s)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return parsedVersion{}, fmt.Errorf("invalid major version in '%s'", s)
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return parsedVersion{}, fmt.Errorf("invalid minor version in '%s'", s)
	}
	return parsedVersion{major: major, minor: minor}, nil
}

func (v parsedVersion) less(other parsedVersion) bool {
	if v.major != other.major {
		return v.major < other.major
	}
	return v.minor < other.minor
}

func validateRgbLibVersion(version string) error {
	v, err := parseVersion(version)
	if err != nil {
		return apperror.InvalidRgbLibVersion(version)
	}

	lo, _ := parseVersion(MinRgbLibVersion)
	hi, _ := parseVersion(MaxRgbLibVersion)

	if v.less(lo) || hi.less(v) {
		return apperror.InvalidRgbLibVersion(version)
	}
	return nil
}

// XpubIndexMaps builds the read-only xpub<->idx lookup tables used throughout
// the coordinator, assigning idx in cosigner_xpubs order starting at 1.
func XpubIndexMaps(xpubs []string) (byXpub map[string]int, byIdx map[int]string) {
	byXpub = make(map[string]int, len(xpubs))
	byIdx = make(map[int]string, len(xpubs))
	for i, x := range xpubs {
		idx := i + 1
		byXpub[x] = idx
		byIdx[idx] = x
	}
	return byXpub, byIdx
}
