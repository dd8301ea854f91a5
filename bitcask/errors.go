package bitcask

import "errors"

//goland:noinspection GoExportedElementShouldHaveComment
var (
	ErrBadOptions   = errors.New("invalid bitcask options")
	ErrPathRequired = errors.New("bitcask requires a directory")
)
