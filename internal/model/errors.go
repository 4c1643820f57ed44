package model

import (
	"errors"
	"fmt"
)

var (
	// ErrStructural marks malformed definitions or JSON. Blocks commit.
	ErrStructural = errors.New("structural error")
	// ErrReference marks orphaned or undeclared identifiers.
	ErrReference = errors.New("reference error")
	// ErrQuoting marks identifiers that need quoting.
	ErrQuoting = errors.New("quoting error")
	// ErrIO marks unreadable or undecodable files.
	ErrIO = errors.New("io error")
	// ErrConcurrency is returned when another transaction holds the project lock.
	ErrConcurrency = errors.New("project is locked by another transaction")
	// ErrNotFound is returned for unknown transaction ids and identifiers.
	ErrNotFound = errors.New("not found")
	// ErrProjectStructure is returned when a project declares no tables.
	ErrProjectStructure = errors.New("project structure error")
	// ErrBackupFailed is fatal: no project file is touched without a backup.
	ErrBackupFailed = errors.New("backup could not be written")
)

// FileError attaches a project-relative file to an error.
type FileError struct {
	File string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.File, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// NewFileError wraps err with the file it concerns.
func NewFileError(file string, err error) error {
	return &FileError{File: file, Err: err}
}
