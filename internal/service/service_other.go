//go:build !linux

package service

import "errors"

var errUnsupported = errors.New("service installation is only supported on linux")

func isRootImpl() bool {
	return false
}

func installImpl(cfg ServiceConfig, execPath string) error {
	return errUnsupported
}

func uninstallImpl(serviceName string) error {
	return errUnsupported
}

func statusImpl(serviceName string) (string, error) {
	return "", errUnsupported
}

func isInstalledImpl(serviceName string) bool {
	return false
}
