//go:build imagecache_debug

package memory

const debugging = true

func assert(cond bool, message string) {
	if !cond {
		panic(message)
	}
}
