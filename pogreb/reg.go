package pogreb

import "git.tcp.direct/tcp.direct/stash"

func init() {
	stash.RegisterEngine("pogreb", func(path string, opts ...any) (stash.Docs, error) {
		return Open(path, opts...)
	})
}
