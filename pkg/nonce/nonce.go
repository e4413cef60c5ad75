// Package nonce issues single-use, expiring values such as authorization codes.
package nonce

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-secure-stdlib/nonceutil"
)

var ErrUnknownNonce = errors.New("nonce unknown, expired or already redeemed")

type Service interface {
	Get() (string, error)
	Redeem(nonceStr string) error
}

type HashicorpNonceService struct {
	nonceService nonceutil.NonceService
}

func NewHashicorpNonceService() (*HashicorpNonceService, error) {
	nonceService := nonceutil.NewNonceService()
	err := nonceService.Initialize()
	if err != nil {
		return nil, fmt.Errorf("could not initialize nonce service: %w", err)
	}
	return &HashicorpNonceService{nonceService}, nil
}

func (s *HashicorpNonceService) Get() (string, error) {
	nonceStr, _, err := s.nonceService.Get()
	if err != nil {
		return "", err
	}
	return nonceStr, nil
}

func (s *HashicorpNonceService) Redeem(nonceStr string) error {
	if !s.nonceService.Redeem(nonceStr) {
		return ErrUnknownNonce
	}
	return nil
}
