package token

import (
	"errors"
	"math/big"
	"strings"
)

// Decimals is the scaling factor between display units and the contract's base units: one displayed token is 10^18
// base units, the convention used by the funding grant, transfers and minting alike.
const Decimals = 18

// ErrInvalidAmount is returned for amounts that are malformed, negative or not exactly representable in base units.
var ErrInvalidAmount = errors.New("invalid amount: want a decimal number with at most 18 fraction digits")

var unit = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// ToBase converts a user-supplied decimal amount in display units to base units. The conversion is exact: any input
// that would lose precision, ie. more than 18 fraction digits, is rejected rather than rounded.
func ToBase(amount string) (*big.Int, error) {
	s := strings.TrimSpace(amount)
	if s == "" || s[0] == '-' || s[0] == '+' {
		return nil, ErrInvalidAmount
	}

	ip, fp := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		ip, fp = s[:i], s[i+1:]
	}
	if ip == "" && fp == "" {
		return nil, ErrInvalidAmount
	}
	if ip == "" {
		ip = "0"
	}
	if len(fp) > Decimals {
		return nil, ErrInvalidAmount
	}
	if !digits(ip) || (fp != "" && !digits(fp)) {
		return nil, ErrInvalidAmount
	}

	b, ok := new(big.Int).SetString(ip, 10)
	if !ok {
		return nil, ErrInvalidAmount
	}
	b.Mul(b, unit)

	if fp != "" {
		f, ok := new(big.Int).SetString(fp+strings.Repeat("0", Decimals-len(fp)), 10)
		if !ok {
			return nil, ErrInvalidAmount
		}
		b.Add(b, f)
	}
	return b, nil
}

// FromBase renders a base-unit amount as the shortest exact decimal in display units.
func FromBase(b *big.Int) string {
	q, r := new(big.Int).QuoRem(b, unit, new(big.Int))
	if r.Sign() == 0 {
		return q.String()
	}
	neg := false
	if r.Sign() < 0 {
		// round toward zero leaves both parts negative for negative input
		neg = true
		r.Neg(r)
		q.Neg(q)
	}
	fp := strings.TrimRight(leftPad(r.String(), Decimals), "0")
	s := q.String() + "." + fp
	if neg {
		s = "-" + s
	}
	return s
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

func leftPad(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return strings.Repeat("0", n-len(s)) + s
}
