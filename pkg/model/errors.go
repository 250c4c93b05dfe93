package model

import "github.com/m-mizutani/goerr/v2"

var (
	// ErrCallerContract is the root of every error caused by invalid caller input
	ErrCallerContract = goerr.New("caller contract violation")

	ErrInvalidIdentity = goerr.Wrap(ErrCallerContract, "invalid identity")
	ErrInvalidGender   = goerr.Wrap(ErrCallerContract, "invalid gender")
	ErrEmptyQuestion   = goerr.Wrap(ErrCallerContract, "question is empty")
	ErrEmptyUserID     = goerr.Wrap(ErrCallerContract, "user id is empty")
)
