package sstable

import "errors"

// ErrInvalidMagic is returned when a table's footer magic number doesn't
// match FooterMagic: a corrupt or truncated file.
var ErrInvalidMagic = errors.New("sstable: invalid footer magic number")

var errInvalidFooterSize = errors.New("sstable: short footer read")

// ErrNotFound names the key-not-found condition. Reader.Get does not return
// it: Get reports a key absent from this table with found=false.
var ErrNotFound = errors.New("sstable: key not found")
