//go:build !imagecache_debug

package imagecache

const debugging = false

func assert(bool, string) {}
