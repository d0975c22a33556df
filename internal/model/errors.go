package model

import "errors"

var (
	// User related errors
	ErrUserNotFound       = errors.New("user not found")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidPassword    = errors.New("invalid password")
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrInvalidCredentials = errors.New("invalid credentials")

	// Token related errors
	ErrTokenNotFound   = errors.New("token not found")
	ErrRefreshDeclined = errors.New("refresh declined")

	// Permission/Access related errors
	ErrUnauthorized = errors.New("unauthorized")
)
