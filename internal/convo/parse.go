package convo

import (
	"errors"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrMissingArgument     = errors.New("missing argument")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrUnsupportedCurrency = errors.New("unsupported currency")
)

const (
	// amountScale is the number of decimal places the coin can represent.
	amountScale = 8
	// maxAmountDigits bounds the significant digits of a withdrawal amount.
	maxAmountDigits = 20
)

// amountPrefix matches the leading decimal number of a token, so "5doge"
// reads as 5. Exponent notation is not part of the grammar.
var (
	amountPrefix   = regexp.MustCompile(`^[+-]?(?:[0-9]+(?:\.[0-9]+)?|\.[0-9]+)`)
	exponentSuffix = regexp.MustCompile(`^[eE][+-]?[0-9]`)
)

// WithdrawalRequest is the amount and currency extracted from a withdraw message.
type WithdrawalRequest struct {
	Currency string
	Amount   decimal.Decimal
}

// AddressParser extracts the address argument of a register command.
type AddressParser interface {
	ParseAddress(text string) (string, error)
}

// WithdrawalParser extracts the amount and currency of a withdraw command.
type WithdrawalParser interface {
	ParseWithdrawal(text string) (WithdrawalRequest, error)
}

// TokenParser is the whitespace-token grammar used by default. It satisfies
// both AddressParser and WithdrawalParser.
type TokenParser struct {
	knownCodes map[string]struct{}
}

// NewTokenParser returns a parser recognising the given currency codes.
func NewTokenParser(knownCodes []string) *TokenParser {
	codes := make(map[string]struct{}, len(knownCodes))
	for _, code := range knownCodes {
		codes[strings.ToUpper(strings.TrimSpace(code))] = struct{}{}
	}
	return &TokenParser{knownCodes: codes}
}

func (p *TokenParser) ParseAddress(text string) (string, error) {
	return ParseRegisterAddress(text)
}

func (p *TokenParser) ParseWithdrawal(text string) (WithdrawalRequest, error) {
	return parseWithdrawal(text, p.knownCodes)
}

// ParseRegisterAddress returns the second whitespace-delimited token.
func ParseRegisterAddress(text string) (string, error) {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return "", ErrMissingArgument
	}
	return fields[1], nil
}

// ParseWithdrawal scans every token of text. Tokens starting with a number set
// the amount and the last one wins; any token naming one of knownCodes sets the
// currency. Amounts in exponent form, with more than eight decimal places or
// more than twenty digits are rejected with ErrInvalidArgument.
func ParseWithdrawal(text string, knownCodes []string) (WithdrawalRequest, error) {
	return NewTokenParser(knownCodes).ParseWithdrawal(text)
}

func parseWithdrawal(text string, knownCodes map[string]struct{}) (WithdrawalRequest, error) {
	tokens := usableTokens(text)
	if len(tokens) < 2 {
		return WithdrawalRequest{}, ErrMissingArgument
	}

	var (
		req   WithdrawalRequest
		found bool
		valid bool
	)
	for _, tok := range tokens {
		if amount, ok, numeric := parseAmount(tok); numeric {
			req.Amount = amount
			found = true
			valid = ok
			continue
		}
		if isWithdrawKeyword(tok) {
			continue
		}
		code := strings.ToUpper(tok)
		if _, ok := knownCodes[code]; ok {
			req.Currency = code
		}
	}

	if !found || !valid || !req.Amount.IsPositive() || req.Currency == "" {
		return WithdrawalRequest{}, ErrInvalidArgument
	}
	return req, nil
}

// parseAmount reads the numeric prefix of tok. numeric reports whether tok
// starts with a number at all; ok is false when that number is outside the
// range a withdrawal can carry.
func parseAmount(tok string) (amount decimal.Decimal, ok, numeric bool) {
	prefix := amountPrefix.FindString(tok)
	if prefix == "" {
		return decimal.Decimal{}, false, false
	}
	if exponentSuffix.MatchString(tok[len(prefix):]) {
		return decimal.Decimal{}, false, true
	}
	if countDigits(prefix) > maxAmountDigits {
		return decimal.Decimal{}, false, true
	}
	amount, err := decimal.NewFromString(prefix)
	if err != nil {
		return decimal.Decimal{}, false, true
	}
	if !amount.Equal(amount.Truncate(amountScale)) {
		return decimal.Decimal{}, false, true
	}
	return amount, true, true
}

func countDigits(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			n++
		}
	}
	return n
}

func usableTokens(text string) []string {
	fields := strings.Fields(text)
	out := fields[:0]
	for _, f := range fields {
		switch f {
		case "null", "undefined", "NaN":
			continue
		}
		out = append(out, f)
	}
	return out
}

func isWithdrawKeyword(tok string) bool {
	lower := strings.ToLower(tok)
	for _, r := range rules {
		if r.kind != KindWithdraw {
			continue
		}
		for _, kw := range r.keywords {
			if lower == kw {
				return true
			}
		}
	}
	return false
}
