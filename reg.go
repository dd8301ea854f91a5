package stash

import (
	"slices"
	"sync"
)

var (
	engines = make(map[string]Opener)
	regMu   = &sync.RWMutex{}
)

// RegisterEngine makes an engine available to New and Open under the given
// name. Engine packages call this from init, so importing one for side
// effects is enough to register it.
func RegisterEngine(name string, open Opener) {
	regMu.Lock()
	engines[name] = open
	regMu.Unlock()
}

// LookupEngine returns the Opener registered under name, or nil.
func LookupEngine(name string) Opener {
	regMu.RLock()
	o := engines[name]
	regMu.RUnlock()
	return o
}

// Engines returns the sorted names of every registered engine.
func Engines() []string {
	regMu.RLock()
	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	regMu.RUnlock()
	slices.Sort(names)
	return names
}

// FileEngines returns the registered engines that persist to disk, which
// excludes the built-in memory engine.
func FileEngines() []string {
	all := Engines()
	file := make([]string, 0, len(all))
	for _, name := range all {
		if name != MemoryEngine {
			file = append(file, name)
		}
	}
	return file
}
