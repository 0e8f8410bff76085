package service

import "errors"

var ErrTooManyConflicts = errors.New("license kept changing during verification")
