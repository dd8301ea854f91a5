package pogreb

import "errors"

//goland:noinspection GoExportedElementShouldHaveComment
var (
	ErrBadOptions   = errors.New("invalid pogreb options")
	ErrPathRequired = errors.New("pogreb requires a directory")
)
