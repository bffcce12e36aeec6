//go:build !linux

package buffer

func newMappedStorage(capacity int) (contiguousStorage, error) {
	return newFallbackStorage(capacity), nil
}
