//go:build imagecache_debug

package imagecache

const debugging = true

func assert(cond bool, message string) {
	if !cond {
		panic(message)
	}
}
