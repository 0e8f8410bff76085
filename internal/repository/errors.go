package repository

import "errors"

var (
	ErrLicenseNotFound  = errors.New("license not found")
	ErrLicenseExists    = errors.New("license already exists")
	ErrRevisionConflict = errors.New("license was modified concurrently")
	ErrSettingNotFound  = errors.New("setting not found")
)
