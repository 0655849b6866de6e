package cmd

import (
	"errors"

	"github.com/kamusis/regindex/internal/indexerr"
)

// Exit codes. Each error kind gets its own so scripts can branch on the
// failure without parsing messages.
const (
	exitOK               = 0
	exitError            = 1
	exitInvalidManifest  = 2
	exitDuplicateVersion = 3
	exitVersionNotFound  = 4
	exitMalformedRecord  = 5
	exitMissingConfig    = 6
	exitAlreadyExists    = 7
	exitLocked           = 8
	exitIoFailure        = 9
	exitChecksumMismatch = 10
	exitAlreadyYanked    = 11
	exitNotYanked        = 12
	exitInvalidIndex     = 13
)

var kindExitCodes = map[indexerr.Kind]int{
	indexerr.InvalidManifest:  exitInvalidManifest,
	indexerr.DuplicateVersion: exitDuplicateVersion,
	indexerr.VersionNotFound:  exitVersionNotFound,
	indexerr.MalformedRecord:  exitMalformedRecord,
	indexerr.MissingConfig:    exitMissingConfig,
	indexerr.AlreadyExists:    exitAlreadyExists,
	indexerr.Locked:           exitLocked,
	indexerr.IoFailure:        exitIoFailure,
	indexerr.ChecksumMismatch: exitChecksumMismatch,
	indexerr.AlreadyYanked:    exitAlreadyYanked,
	indexerr.NotYanked:        exitNotYanked,
}

// errInvalidIndex is returned by validate when violations were found.
var errInvalidIndex = errors.New("index is invalid")

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	if errors.Is(err, errInvalidIndex) {
		return exitInvalidIndex
	}
	if code, ok := kindExitCodes[indexerr.KindOf(err)]; ok {
		return code
	}
	return exitError
}
