package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CoinProfile describes the single coin the custodial wallet settles in and
// the address format rules used by the structural address check.
type CoinProfile struct {
	Code          string   `yaml:"code"`
	AddressLength int      `yaml:"address_length"`
	AddressPrefix string   `yaml:"address_prefix"`
	KnownCodes    []string `yaml:"known_codes"`
	BadCheckCodes []string `yaml:"bad_check_codes"`
	HistoryLimit  int      `yaml:"history_limit"`
}

// DefaultCoinProfile returns the Dogecoin profile.
func DefaultCoinProfile() CoinProfile {
	return CoinProfile{
		Code:          "DOGE",
		AddressLength: 34,
		AddressPrefix: "D",
		KnownCodes:    []string{"BTC", "LTC", "DOGE"},
		BadCheckCodes: []string{"X5", "SZ", "CK"},
		HistoryLimit:  75,
	}
}

// LoadCoinProfile reads a YAML coin profile and fills unset fields from the
// default profile. An empty path yields the default profile.
func LoadCoinProfile(path string) (CoinProfile, error) {
	def := DefaultCoinProfile()
	path = strings.TrimSpace(path)
	if path == "" {
		return def, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return CoinProfile{}, fmt.Errorf("read coin profile: %w", err)
	}

	var p CoinProfile
	if err := yaml.Unmarshal(content, &p); err != nil {
		return CoinProfile{}, fmt.Errorf("parse coin profile: %w", err)
	}

	if p.Code == "" {
		p.Code = def.Code
	}
	if p.AddressLength == 0 {
		p.AddressLength = def.AddressLength
	}
	if p.AddressPrefix == "" {
		p.AddressPrefix = def.AddressPrefix
	}
	if len(p.KnownCodes) == 0 {
		p.KnownCodes = def.KnownCodes
	}
	if len(p.BadCheckCodes) == 0 {
		p.BadCheckCodes = def.BadCheckCodes
	}
	if p.HistoryLimit == 0 {
		p.HistoryLimit = def.HistoryLimit
	}
	p.normalise()

	if err := p.validate(); err != nil {
		return CoinProfile{}, err
	}
	return p, nil
}

func (p *CoinProfile) normalise() {
	p.Code = strings.ToUpper(strings.TrimSpace(p.Code))
	for i, code := range p.KnownCodes {
		p.KnownCodes[i] = strings.ToUpper(strings.TrimSpace(code))
	}
	for i, code := range p.BadCheckCodes {
		p.BadCheckCodes[i] = strings.ToUpper(strings.TrimSpace(code))
	}
}

func (p CoinProfile) validate() error {
	if p.AddressLength < 0 {
		return errors.New("coin profile: address_length must not be negative")
	}
	if p.HistoryLimit < 0 {
		return errors.New("coin profile: history_limit must not be negative")
	}
	for _, code := range p.KnownCodes {
		if code == p.Code {
			return nil
		}
	}
	return fmt.Errorf("coin profile: settlement code %s missing from known_codes", p.Code)
}
