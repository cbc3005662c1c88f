//go:build !windows

package peb

import "github.com/carved4/go-ldr/pkg/errors"

func Modules() ([]Module, error) {
	return nil, errors.New(errors.ErrUnsupportedPlatform, "peb.Modules")
}

func ApiSetMap() ([]byte, error) {
	return nil, errors.New(errors.ErrUnsupportedPlatform, "peb.ApiSetMap")
}
